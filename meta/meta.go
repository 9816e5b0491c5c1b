// Package meta 实体元数据模型
//
// 实体是带 orm tag 的结构体，注册到 Registry 后由 Build 一次性解析为 Entity，
// 之后只读，编译器、同步器和仓储都只消费这里的数据结构。
package meta

import (
	"reflect"

	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// ErrConfiguration 实体声明错误，在 Build 时返回
var ErrConfiguration = errors.New("entity configuration error")

// ErrNotRegistered 实体类型未注册
var ErrNotRegistered = errors.New("entity not registered")

// DefaultDepth 未声明 depth 时关系的最大解析深度
const DefaultDepth = 3

// FieldStrategy 字段映射策略
type FieldStrategy string

const (
	// Implicit 映射所有导出字段，orm:"-" 跳过
	Implicit FieldStrategy = "implicit"
	// Explicit 只映射带 orm tag 的字段
	Explicit FieldStrategy = "explicit"
)

// Options 表级选项
type Options struct {
	LoggingEnabled    bool          `cfg:"loggingEnabled"`
	SoftDeleteEnabled bool          `cfg:"softDeleteEnabled"`
	WithoutRowid      bool          `cfg:"withoutRowid"`
	Strict            bool          `cfg:"strict"`
	FieldStrategy     FieldStrategy `cfg:"fieldStrategy" def:"implicit" validate:"omitempty,oneof=implicit explicit"`
}

// Policy 同步策略
type Policy struct {
	DeployNewTables  bool `cfg:"deployNewTables" def:"true"`
	DeployNewColumns bool `cfg:"deployNewColumns" def:"true"`
	DropTables       bool `cfg:"dropTables"`
	DropColumns      bool `cfg:"dropColumns"`
	UpgradeSchema    bool `cfg:"upgradeSchema"`
	RedefineEntity   bool `cfg:"redefineEntity"`
}

// DefaultPolicy 只部署新表和新列，不做破坏性修改
func DefaultPolicy() Policy {
	return Policy{DeployNewTables: true, DeployNewColumns: true}
}

// Index 索引声明，Fields 可以是字段名或列名
type Index struct {
	Name     string
	Unique   bool
	Fields   []string
	Criteria string
}

// EntityOptions 实体通过 Descriptor 接口声明的表级信息
type EntityOptions struct {
	// 表名，默认为类型名
	Table string
	// 为 nil 时使用默认选项
	Options *Options
	// 为 nil 时使用 Registry 的默认策略
	Policy *Policy
	// 结构版本，大于库中记录的版本时触发升级钩子
	Version int
	Indexes []Index
}

// Tabler 自定义表名
type Tabler interface {
	TableName() string
}

// Descriptor 声明表级信息，优先级高于 Tabler
type Descriptor interface {
	Describe() EntityOptions
}

type Nullability int

const (
	Nullable Nullability = iota
	NotNull
)

// DefaultKind 列默认值的来源
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	DefaultAsSpecified
)

// PrimaryKind 主键类型
type PrimaryKind int

const (
	NotPrimary PrimaryKind = iota
	PrimaryPlain
	PrimaryAutoIncrement
	PrimaryUUID
)

// Column 列描述
type Column struct {
	// Go 字段名，软删除列为空
	Field string
	// reflect 字段下标，外键列指向关系字段
	Index []int
	Type  reflect.Type

	Name         string
	Class        typemap.StorageClass
	Nullability  Nullability
	Default      DefaultKind
	DefaultValue string
	Check        string
	// 定点小数的十进制位数
	Scale   int
	Primary PrimaryKind
	Unique  bool
	// 参与了至少一个索引
	Indexed bool
	// 外键列所属的关系
	Relation *Relation
	// 软删除标记列
	SoftDelete bool
}

func (c *Column) NotNull() bool {
	return c.Nullability == NotNull
}

// Required 非空且没有默认值的列，每次插入都必须提供
func (c *Column) Required() bool {
	if c.Nullability != NotNull || c.Default == DefaultAsSpecified {
		return false
	}
	return c.Primary != PrimaryAutoIncrement && c.Primary != PrimaryUUID
}

// Generated 自增主键由数据库生成，插入时不提供
func (c *Column) Generated() bool {
	return c.Primary == PrimaryAutoIncrement
}

type RelationKind int

const (
	ManyToOne RelationKind = iota
	OneToOne
	OneToMany
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "ManyToOne"
	case OneToOne:
		return "OneToOne"
	case OneToMany:
		return "OneToMany"
	case ManyToMany:
		return "ManyToMany"
	}
	return "Unknown"
}

// OwnsColumn ManyToOne 和 OneToOne 在本表拥有外键列
func (k RelationKind) OwnsColumn() bool {
	return k == ManyToOne || k == OneToOne
}

// Side 多对多集合字段所在的一侧
type Side string

const (
	SideDirect Side = "direct"
	SideA      Side = "A"
	SideB      Side = "B"
)

// Relation 关系描述
type Relation struct {
	Kind  RelationKind
	Field string
	Index []int
	// 字段类型，例如 *Bank、[]*Account、*lazy.Ref[Bank]
	FieldType reflect.Type
	// 目标实体的结构体类型
	Target reflect.Type
	// Build 之后指向目标实体
	Entity *Entity
	// 被引用的目标字段，默认为目标主键
	RefField string
	// OneToMany 时目标实体上指向本实体的外键列
	MappedBy string
	Lazy     bool
	Side     Side
	// ManyToMany 的关联实体
	Link  *Entity
	Depth int
	// ManyToOne / OneToOne 的外键列
	Column *Column

	linkTable string
	declared  typemap.StorageClass
}

// Entity 实体元数据，Build 之后不再修改
type Entity struct {
	// 关联实体为 nil
	Type      reflect.Type
	Table     string
	Primary   *Column
	Columns   []*Column
	Relations []*Relation
	Options   Options
	Policy    Policy
	Version   int
	Indexes   []Index
	// 软删除列，未开启时为 nil
	SoftDelete *Column

	// 多对多关联实体的两侧
	LinkA *Entity
	LinkB *Entity

	byName  map[string]*Column
	byField map[string]*Column
}

// IsLink 是否为多对多关系生成的关联实体
func (e *Entity) IsLink() bool {
	return e.LinkA != nil
}

// Column 按列名或字段名查找列
func (e *Entity) Column(name string) (*Column, bool) {
	if c, ok := e.byName[name]; ok {
		return c, true
	}
	c, ok := e.byField[name]
	return c, ok
}

// ColumnClass 实现 typemap.FieldTyper
func (e *Entity) ColumnClass(name string) (typemap.StorageClass, bool) {
	c, ok := e.Column(name)
	if !ok {
		return "", false
	}
	return c.Class, true
}

// ColumnNames 按声明顺序返回列名
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// InsertColumns 插入时需要提供的列，不包含自增主键
func (e *Entity) InsertColumns() []string {
	names := make([]string, 0, len(e.Columns))
	for _, c := range e.Columns {
		if !c.Generated() {
			names = append(names, c.Name)
		}
	}
	return names
}

// RequiredColumns 非空且没有默认值的列
func (e *Entity) RequiredColumns() []*Column {
	var columns []*Column
	for _, c := range e.Columns {
		if c.Required() {
			columns = append(columns, c)
		}
	}
	return columns
}

// Relation 按字段名查找关系
func (e *Entity) Relation(field string) (*Relation, bool) {
	for _, r := range e.Relations {
		if r.Field == field {
			return r, true
		}
	}
	return nil, false
}

// ResolveFields 把字段名或列名转换为列名，未知名称返回错误
func (e *Entity) ResolveFields(fields []string) ([]string, error) {
	names := make([]string, len(fields))
	for i, f := range fields {
		c, ok := e.Column(f)
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "%s has no column %s", e.Table, f)
		}
		names[i] = c.Name
	}
	return names, nil
}

func (e *Entity) String() string {
	return e.Table
}
