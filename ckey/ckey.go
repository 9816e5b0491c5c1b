// Package ckey 复合键，多个字段值的确定性字符串形式，用作缓存键和多对多关联表的主键
package ckey

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Separator 字段值之间的分隔符，字段值中不允许出现
const Separator = "~#~"

var ErrDataIntegrity = errors.New("data integrity violation")

type part struct {
	field string
	value any
	typ   reflect.Type
}

// Key 复合键，零值可用
type Key struct {
	parts []part
}

func New() *Key {
	return &Key{}
}

// Of 按 field, value 成对构造复合键
func Of(pairs ...any) (*Key, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("pairs must be field/value pairs")
	}
	k := New()
	for i := 0; i < len(pairs); i += 2 {
		field, ok := pairs[i].(string)
		if !ok {
			return nil, errors.Errorf("field name at %d must be a string", i)
		}
		if err := k.Put(field, pairs[i+1], reflect.TypeOf(pairs[i+1])); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Put 设置字段值，字段已存在时覆盖
// 值的规范形式包含 Separator 时返回 ErrDataIntegrity，并且不修改已有内容
func (k *Key) Put(field string, value any, typ reflect.Type) error {
	if strings.Contains(field, Separator) {
		return errors.Wrapf(ErrDataIntegrity, "field name %q contains %q", field, Separator)
	}
	if strings.Contains(format(value), Separator) {
		return errors.Wrapf(ErrDataIntegrity, "value of %s contains %q", field, Separator)
	}

	for i := range k.parts {
		if k.parts[i].field == field {
			k.parts[i] = part{field: field, value: value, typ: typ}
			return nil
		}
	}
	k.parts = append(k.parts, part{field: field, value: value, typ: typ})
	return nil
}

// Get 返回字段值
func (k *Key) Get(field string) (any, bool) {
	for _, p := range k.parts {
		if p.field == field {
			return p.value, true
		}
	}
	return nil, false
}

// Type 返回字段声明的类型
func (k *Key) Type(field string) reflect.Type {
	for _, p := range k.parts {
		if p.field == field {
			return p.typ
		}
	}
	return nil
}

func (k *Key) Len() int {
	return len(k.parts)
}

// Fields 按字段名升序返回
func (k *Key) Fields() []string {
	fields := make([]string, 0, len(k.parts))
	for _, p := range k.sorted() {
		fields = append(fields, p.field)
	}
	return fields
}

// Values 按字段名升序返回字段值
func (k *Key) Values() []any {
	values := make([]any, 0, len(k.parts))
	for _, p := range k.sorted() {
		values = append(values, p.value)
	}
	return values
}

// String 字段按名称升序排列，值用 Separator 连接，与 Put 的顺序无关
func (k *Key) String() string {
	parts := k.sorted()
	values := make([]string, len(parts))
	for i, p := range parts {
		values[i] = format(p.value)
	}
	return strings.Join(values, Separator)
}

func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	if k.Len() != other.Len() {
		return false
	}
	a, b := k.sorted(), other.sorted()
	for i := range a {
		if a[i].field != b[i].field || format(a[i].value) != format(b[i].value) {
			return false
		}
	}
	return true
}

func (k *Key) sorted() []part {
	parts := make([]part, len(k.parts))
	copy(parts, k.parts)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].field < parts[j].field
	})
	return parts
}

// Split 将 String 的结果拆回字段值
func Split(s string) []string {
	return strings.Split(s, Separator)
}

// format 值的规范字符串形式，nil 为空字符串，时间统一为 UTC RFC3339Nano
func format(value any) string {
	if value == nil {
		return ""
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}

	switch v := rv.Interface().(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	}
	return fmt.Sprint(rv.Interface())
}
