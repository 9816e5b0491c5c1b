package typemap

import (
	"database/sql"
	"database/sql/driver"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StorageClass 可移植的 SQL 存储类型
type StorageClass string

const (
	TEXT    StorageClass = "TEXT"
	INTEGER StorageClass = "INTEGER"
	REAL    StorageClass = "REAL"
	BLOB    StorageClass = "BLOB"
	// NUMERIC 只会出现在对已有表的内省结果中，实体声明不会产生该类型
	NUMERIC StorageClass = "NUMERIC"
)

var (
	ErrUnmappableType = errors.New("unmappable type")
	ErrUnknownField   = errors.New("unknown referenced field")
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	bytesType   = reflect.TypeOf([]byte(nil))
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// FieldTyper 查询实体字段（字段名或列名）对应列的存储类型
type FieldTyper interface {
	ColumnClass(field string) (StorageClass, bool)
}

// Mapper Go 类型与存储类型之间的映射
type Mapper struct {
	mu     sync.RWMutex
	custom map[reflect.Type]StorageClass
}

func NewMapper() *Mapper {
	return &Mapper{
		custom: map[reflect.Type]StorageClass{
			reflect.TypeOf(sql.NullString{}):  TEXT,
			reflect.TypeOf(sql.NullInt64{}):   INTEGER,
			reflect.TypeOf(sql.NullInt32{}):   INTEGER,
			reflect.TypeOf(sql.NullInt16{}):   INTEGER,
			reflect.TypeOf(sql.NullBool{}):    INTEGER,
			reflect.TypeOf(sql.NullFloat64{}): REAL,
			reflect.TypeOf(sql.NullTime{}):    TEXT,
		},
	}
}

// Register 注册自定义类型，类型需要实现 driver.Valuer 和 sql.Scanner，或者底层是基础类型
func (m *Mapper) Register(t reflect.Type, class StorageClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custom[t] = class
}

func (m *Mapper) IsMappableType(t reflect.Type) bool {
	_, err := m.ResolveType(t)
	return err == nil
}

// ResolveType 解析字段类型对应的存储类型，指针类型按元素类型解析
func (m *Mapper) ResolveType(t reflect.Type) (StorageClass, error) {
	if t == nil {
		return "", errors.Wrap(ErrUnmappableType, "nil type")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	m.mu.RLock()
	class, ok := m.custom[t]
	m.mu.RUnlock()
	if ok {
		return class, nil
	}

	switch t {
	case timeType, uuidType:
		return TEXT, nil
	case bytesType:
		return BLOB, nil
	}

	switch t.Kind() {
	case reflect.String:
		return TEXT, nil
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return INTEGER, nil
	case reflect.Float32, reflect.Float64:
		return REAL, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return BLOB, nil
		}
	}

	return "", errors.Wrapf(ErrUnmappableType, "%v", t)
}

// AutoDetectType 隐式字段策略下的类型推断，scale 大于 0 的浮点数按定点小数存储为整数
func (m *Mapper) AutoDetectType(t reflect.Type, scale int) (StorageClass, error) {
	class, err := m.ResolveType(t)
	if err != nil {
		return "", err
	}
	if class == REAL && scale > 0 {
		return INTEGER, nil
	}
	return class, nil
}

// IsNullableType 指针和 sql.Null* 类型可以保存 NULL
func (m *Mapper) IsNullableType(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		return true
	}
	return t.PkgPath() == "database/sql" && strings.HasPrefix(t.Name(), "Null")
}

// GetReferencingType 返回引用 e 的 refField 字段的外键列应使用的存储类型
func (m *Mapper) GetReferencingType(e FieldTyper, refField string) (StorageClass, error) {
	class, ok := e.ColumnClass(refField)
	if !ok {
		return "", errors.Wrapf(ErrUnknownField, "%s", refField)
	}
	return class, nil
}

// ResolveReferenceType 外键列的类型必须与被引用字段的类型一致
// declared 为字段显式声明的类型，为空表示未声明
func (m *Mapper) ResolveReferenceType(declared StorageClass, e FieldTyper, refField string) (StorageClass, error) {
	class, err := m.GetReferencingType(e, refField)
	if err != nil {
		return "", err
	}
	if declared != "" && declared != class {
		return "", errors.Wrapf(ErrUnmappableType, "foreign key declared as %s but %s is %s", declared, refField, class)
	}
	return class, nil
}

// ParseStorageClass 按 SQLite 的类型亲和性规则解析已有列的声明类型
func ParseStorageClass(declared string) StorageClass {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return INTEGER
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return TEXT
	case t == "" || strings.Contains(t, "BLOB") || strings.Contains(t, "BINARY"):
		return BLOB
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return REAL
	}
	return NUMERIC
}
