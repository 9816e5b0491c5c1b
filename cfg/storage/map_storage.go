package storage

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hatlonely/orm/ref"
	"github.com/pkg/errors"
)

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	timeType        = reflect.TypeOf(time.Time{})
	typeOptionsType = reflect.TypeOf(ref.TypeOptions{})
)

// MapStorage 基于 map 和 slice 的存储实现
type MapStorage struct {
	data any
}

// NewMapStorage 创建一个新的 MapStorage 实例
func NewMapStorage(data any) *MapStorage {
	return &MapStorage{data: data}
}

// Data 获取存储的原始数据
func (ms *MapStorage) Data() any {
	return ms.data
}

func (ms *MapStorage) Sub(key string) Storage {
	if key == "" {
		return ms
	}

	current := ms.data
	for _, k := range parseKey(key) {
		current = getValueByKey(current, k)
		if current == nil {
			break
		}
	}
	return NewMapStorage(current)
}

// ConvertTo 实现 ref.Convertable，ref.TypeOptions 中的 Options 会被转换为子 MapStorage，
// 由构造函数的参数类型决定最终结构
func (ms *MapStorage) ConvertTo(object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return convertValue(ms.data, rv)
}

func parseKey(key string) []string {
	fields := strings.FieldsFunc(key, func(r rune) bool {
		return r == '.' || r == '[' || r == ']'
	})
	return fields
}

func getValueByKey(data any, key string) any {
	switch v := data.(type) {
	case map[string]any:
		return v[key]
	case map[any]any:
		return v[key]
	case []any:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(v) {
			return nil
		}
		return v[index]
	}
	return nil
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	srcValue := reflect.ValueOf(src)

	switch dst.Type() {
	case durationType:
		return convertToDuration(srcValue, dst)
	case timeType:
		return convertToTime(srcValue, dst)
	case typeOptionsType:
		return convertToTypeOptions(src, dst)
	}

	switch dst.Kind() {
	case reflect.Map:
		return convertToMap(srcValue, dst)
	case reflect.Slice:
		return convertToSlice(srcValue, dst)
	case reflect.Struct:
		return convertToStruct(srcValue, dst)
	case reflect.Interface:
		if srcValue.Type().AssignableTo(dst.Type()) {
			dst.Set(srcValue)
			return nil
		}
	case reflect.Bool:
		if srcValue.Kind() == reflect.String {
			b, err := strconv.ParseBool(srcValue.String())
			if err != nil {
				return errors.Wrapf(err, "invalid bool %q", srcValue.String())
			}
			dst.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if srcValue.Kind() == reflect.String {
			f, err := strconv.ParseFloat(srcValue.String(), 64)
			if err != nil {
				return errors.Wrapf(err, "invalid number %q", srcValue.String())
			}
			srcValue = reflect.ValueOf(f)
		}
	case reflect.String:
		if srcValue.Kind() != reflect.String {
			dst.SetString(fmt.Sprint(src))
			return nil
		}
	}

	if srcValue.Type().AssignableTo(dst.Type()) {
		dst.Set(srcValue)
		return nil
	}
	if srcValue.Type().ConvertibleTo(dst.Type()) && srcValue.Kind() != reflect.String {
		dst.Set(srcValue.Convert(dst.Type()))
		return nil
	}
	if srcValue.Kind() == reflect.String && dst.Kind() == reflect.String {
		dst.SetString(srcValue.String())
		return nil
	}

	return errors.Errorf("cannot convert %v to %v", srcValue.Type(), dst.Type())
}

func convertToDuration(src, dst reflect.Value) error {
	switch src.Kind() {
	case reflect.String:
		d, err := time.ParseDuration(src.String())
		if err != nil {
			return errors.Wrapf(err, "failed to parse duration %q", src.String())
		}
		dst.SetInt(int64(d))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 整数视为纳秒
		dst.SetInt(src.Int())
		return nil
	case reflect.Float32, reflect.Float64:
		// 浮点数视为秒
		dst.SetInt(int64(src.Float() * float64(time.Second)))
		return nil
	}
	return errors.Errorf("cannot convert %v to time.Duration", src.Type())
}

func convertToTime(src, dst reflect.Value) error {
	switch src.Kind() {
	case reflect.String:
		for _, format := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(format, src.String()); err == nil {
				dst.Set(reflect.ValueOf(t))
				return nil
			}
		}
		return errors.Errorf("failed to parse time %q", src.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.Set(reflect.ValueOf(time.Unix(src.Int(), 0)))
		return nil
	case reflect.Struct:
		if t, ok := src.Interface().(time.Time); ok {
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return errors.Errorf("cannot convert %v to time.Time", src.Type())
}

func convertToTypeOptions(src any, dst reflect.Value) error {
	m, ok := src.(map[string]any)
	if !ok {
		return errors.Errorf("type options must be a map, got %T", src)
	}
	options := dst.Addr().Interface().(*ref.TypeOptions)
	if v, ok := m["namespace"]; ok {
		options.Namespace = fmt.Sprint(v)
	}
	if v, ok := m["type"]; ok {
		options.Type = fmt.Sprint(v)
	}
	if v, ok := m["options"]; ok && v != nil {
		options.Options = NewMapStorage(v)
	}
	return nil
}

func convertToMap(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}

	for _, key := range src.MapKeys() {
		dstKey := reflect.New(dst.Type().Key()).Elem()
		if err := convertValue(key.Interface(), dstKey); err != nil {
			return errors.WithMessagef(err, "key %v", key.Interface())
		}
		dstValue := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(src.MapIndex(key).Interface(), dstValue); err != nil {
			return errors.WithMessagef(err, "key %v", key.Interface())
		}
		dst.SetMapIndex(dstKey, dstValue)
	}
	return nil
}

func convertToSlice(src, dst reflect.Value) error {
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		// 单个值视为只有一个元素的列表
		slice := reflect.MakeSlice(dst.Type(), 1, 1)
		if err := convertValue(src.Interface(), slice.Index(0)); err != nil {
			return err
		}
		dst.Set(slice)
		return nil
	}

	slice := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := convertValue(src.Index(i).Interface(), slice.Index(i)); err != nil {
			return errors.WithMessagef(err, "index %d", i)
		}
	}
	dst.Set(slice)
	return nil
}

// convertToStruct 按 cfg tag 匹配字段，没有 tag 时使用忽略大小写的字段名
func convertToStruct(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("cannot convert %v to %v", src.Type(), dst.Type())
	}

	values := make(map[string]reflect.Value, src.Len())
	for _, key := range src.MapKeys() {
		values[fmt.Sprint(key.Interface())] = src.MapIndex(key)
	}

	dstType := dst.Type()
	for i := 0; i < dstType.NumField(); i++ {
		field := dstType.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if tag := strings.Split(field.Tag.Get("cfg"), ",")[0]; tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}

		value, ok := values[name]
		if !ok {
			for k, v := range values {
				if strings.EqualFold(k, name) {
					value, ok = v, true
					break
				}
			}
		}
		if !ok {
			continue
		}

		if err := convertValue(value.Interface(), dst.Field(i)); err != nil {
			return errors.WithMessagef(err, "field %s", name)
		}
	}
	return nil
}
