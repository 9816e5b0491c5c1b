package meta

import (
	"reflect"
	"strings"

	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// SoftDeleteColumn 开启软删除时追加的列
const SoftDeleteColumn = "deletedAt"

func (r *Registry) buildEntity(t reflect.Type) (*Entity, error) {
	e := &Entity{
		Type:    t,
		Table:   t.Name(),
		Options: r.options,
		Policy:  r.policy,
		byName:  map[string]*Column{},
		byField: map[string]*Column{},
	}

	ptr := reflect.New(t).Interface()
	if tabler, ok := ptr.(Tabler); ok {
		e.Table = tabler.TableName()
	}
	var indexes []Index
	if descriptor, ok := ptr.(Descriptor); ok {
		d := descriptor.Describe()
		if d.Table != "" {
			e.Table = d.Table
		}
		if d.Options != nil {
			e.Options = *d.Options
		}
		if d.Policy != nil {
			e.Policy = *d.Policy
		}
		e.Version = d.Version
		indexes = append(indexes, d.Indexes...)
	}
	if e.Options.FieldStrategy == "" {
		e.Options.FieldStrategy = Implicit
	}
	if e.Table == "" {
		return nil, errors.Wrapf(ErrConfiguration, "%v has an empty table name", t)
	}

	for _, field := range fields(t, nil) {
		raw, tagged := field.Tag.Lookup(TagKey)
		if raw == "-" || (!tagged && e.Options.FieldStrategy == Explicit) {
			continue
		}
		tag, err := parseTag(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "%v.%s", t, field.Name)
		}
		name := tag.name
		if name == "" {
			name = field.Name
		}

		if tag.kind != nil || field.Type.Implements(lazyFieldType) {
			rel, err := newRelation(field, tag)
			if err != nil {
				return nil, errors.WithMessagef(err, "%v.%s", t, field.Name)
			}
			e.Relations = append(e.Relations, rel)
			if rel.Kind.OwnsColumn() {
				c := &Column{
					Field:        field.Name,
					Index:        field.Index,
					Type:         field.Type,
					Name:         name,
					Nullability:  nullability(tag, false),
					Check:        tag.check,
					Unique:       tag.unique || rel.Kind == OneToOne,
					Default:      defaultKind(tag),
					DefaultValue: tag.defaultValue,
					Relation:     rel,
				}
				rel.Column = c
				if err := e.addColumn(c); err != nil {
					return nil, err
				}
				if tag.index {
					indexes = append(indexes, Index{Fields: []string{name}})
				}
			}
			continue
		}

		c, err := r.newColumn(field, name, tag)
		if err != nil {
			return nil, errors.WithMessagef(err, "%v.%s", t, field.Name)
		}
		if err := e.addColumn(c); err != nil {
			return nil, err
		}
		if tag.index {
			indexes = append(indexes, Index{Fields: []string{name}})
		}
	}

	if err := e.resolvePrimary(); err != nil {
		return nil, err
	}

	if e.Options.SoftDeleteEnabled {
		c := &Column{Name: SoftDeleteColumn, Class: typemap.TEXT, Nullability: Nullable, SoftDelete: true}
		if err := e.addColumn(c); err != nil {
			return nil, err
		}
		e.SoftDelete = c
	}

	for _, index := range indexes {
		columns, err := e.ResolveFields(index.Fields)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			return nil, errors.Wrapf(ErrConfiguration, "%s: index %s has no fields", e.Table, index.Name)
		}
		if index.Name == "" {
			index.Name = "idx_" + e.Table + "_" + strings.Join(columns, "_")
		}
		index.Fields = columns
		for _, name := range columns {
			e.byName[name].Indexed = true
		}
		e.Indexes = append(e.Indexes, index)
	}

	return e, nil
}

// fields 展开匿名嵌入的结构体，返回所有导出字段
func fields(t reflect.Type, prefix []int) []reflect.StructField {
	var result []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		field.Index = append(append([]int(nil), prefix...), i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get(TagKey) == "" {
			result = append(result, fields(field.Type, field.Index)...)
			continue
		}
		if !field.IsExported() {
			continue
		}
		result = append(result, field)
	}
	return result
}

func (r *Registry) newColumn(field reflect.StructField, name string, tag *fieldTag) (*Column, error) {
	if tag.lazy {
		return nil, errors.Wrap(ErrConfiguration, "lazy requires a relation kind")
	}

	c := &Column{
		Field:        field.Name,
		Index:        field.Index,
		Type:         field.Type,
		Name:         name,
		Scale:        tag.scale,
		Check:        tag.check,
		Unique:       tag.unique,
		Default:      defaultKind(tag),
		DefaultValue: tag.defaultValue,
	}

	class, err := r.mapper.AutoDetectType(field.Type, tag.scale)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "%v", err)
	}
	if tag.typ != "" {
		switch declared := typemap.StorageClass(tag.typ); declared {
		case typemap.TEXT, typemap.INTEGER, typemap.REAL, typemap.BLOB:
			class = declared
		default:
			return nil, errors.Wrapf(ErrConfiguration, "unsupported storage class %s", tag.typ)
		}
	}
	c.Class = class

	switch {
	case tag.autoIncrement:
		if class != typemap.INTEGER {
			return nil, errors.Wrapf(ErrConfiguration, "autoincrement primary key must be INTEGER, got %s", class)
		}
		c.Primary = PrimaryAutoIncrement
	case tag.uuid:
		if class != typemap.TEXT {
			return nil, errors.Wrapf(ErrConfiguration, "uuid primary key must be TEXT, got %s", class)
		}
		c.Primary = PrimaryUUID
	case tag.primary:
		c.Primary = PrimaryPlain
	}

	if c.Primary != NotPrimary && tag.nullable {
		return nil, errors.Wrap(ErrConfiguration, "primary key cannot be nullable")
	}
	c.Nullability = nullability(tag, c.Primary != NotPrimary)
	return c, nil
}

func nullability(tag *fieldTag, primary bool) Nullability {
	if tag.notNull || primary {
		return NotNull
	}
	return Nullable
}

func defaultKind(tag *fieldTag) DefaultKind {
	if tag.hasDefault {
		return DefaultAsSpecified
	}
	return DefaultNone
}

func newRelation(field reflect.StructField, tag *fieldTag) (*Relation, error) {
	if tag.kind == nil {
		return nil, errors.Wrap(ErrConfiguration, "lazy field requires a relation kind")
	}
	if tag.primary {
		return nil, errors.Wrap(ErrConfiguration, "relation cannot be a primary key")
	}

	rel := &Relation{
		Kind:      *tag.kind,
		Field:     field.Name,
		Index:     field.Index,
		FieldType: field.Type,
		RefField:  tag.ref,
		MappedBy:  tag.mappedBy,
		Side:      tag.side,
		Depth:     tag.depth,
		linkTable: tag.link,
		declared:  typemap.StorageClass(tag.typ),
	}
	if rel.Depth == 0 {
		rel.Depth = DefaultDepth
	}

	many := rel.Kind == OneToMany || rel.Kind == ManyToMany
	if field.Type.Implements(lazyFieldType) {
		proxy := reflect.Zero(field.Type).Interface().(LazyField)
		if proxy.LazyMany() != many {
			return nil, errors.Wrapf(ErrConfiguration, "%s field cannot be %v", rel.Kind, field.Type)
		}
		rel.Lazy = true
		rel.Target = proxy.LazyTarget()
	} else {
		if tag.lazy {
			return nil, errors.Wrapf(ErrConfiguration, "lazy requires a lazy proxy field, got %v", field.Type)
		}
		t := field.Type
		if many {
			if t.Kind() != reflect.Slice {
				return nil, errors.Wrapf(ErrConfiguration, "%s field must be a slice, got %v", rel.Kind, t)
			}
			t = t.Elem()
		} else if t.Kind() != reflect.Ptr {
			return nil, errors.Wrapf(ErrConfiguration, "%s field must be a pointer, got %v", rel.Kind, t)
		}
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		rel.Target = t
	}
	if rel.Target.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrConfiguration, "relation target must be a struct, got %v", rel.Target)
	}

	switch {
	case rel.Kind == ManyToMany && rel.Side == "":
		rel.Side = SideA
	case rel.Kind != ManyToMany && rel.Side != "":
		return nil, errors.Wrapf(ErrConfiguration, "side is only valid for ManyToMany")
	case rel.Kind != ManyToMany:
		rel.Side = SideDirect
	}
	if rel.Kind != OneToMany && rel.MappedBy != "" {
		return nil, errors.Wrap(ErrConfiguration, "mappedby is only valid for OneToMany")
	}
	if rel.Kind != ManyToMany && rel.linkTable != "" {
		return nil, errors.Wrap(ErrConfiguration, "link is only valid for ManyToMany")
	}
	return rel, nil
}

func (e *Entity) addColumn(c *Column) error {
	key := strings.ToLower(c.Name)
	for _, other := range e.Columns {
		if strings.ToLower(other.Name) == key {
			return errors.Wrapf(ErrConfiguration, "%s: duplicate column %s", e.Table, c.Name)
		}
	}
	e.Columns = append(e.Columns, c)
	e.byName[c.Name] = c
	if c.Field != "" {
		e.byField[c.Field] = c
	}
	return nil
}

// resolvePrimary 检查主键唯一，隐式策略下没有声明主键时使用名为 id 的列
func (e *Entity) resolvePrimary() error {
	for _, c := range e.Columns {
		if c.Primary == NotPrimary {
			continue
		}
		if e.Primary != nil {
			return errors.Wrapf(ErrConfiguration, "%s: multiple primary keys %s and %s", e.Table, e.Primary.Name, c.Name)
		}
		e.Primary = c
	}
	if e.Primary != nil {
		return nil
	}

	if e.Options.FieldStrategy == Implicit {
		for _, c := range e.Columns {
			if strings.EqualFold(c.Name, "id") && c.Relation == nil {
				c.Primary = PrimaryPlain
				c.Nullability = NotNull
				e.Primary = c
				return nil
			}
		}
	}
	return errors.Wrapf(ErrConfiguration, "%s: missing primary key", e.Table)
}

// resolveRelation 解析关系的目标实体和外键类型，多对多关系返回关联实体
func (r *Registry) resolveRelation(e *Entity, rel *Relation, lookup func(reflect.Type) *Entity, links map[string]*Entity) (*Entity, error) {
	target := lookup(rel.Target)
	if target == nil {
		return nil, errors.Wrapf(ErrConfiguration, "%s.%s: unresolved target %v", e.Table, rel.Field, rel.Target)
	}
	rel.Entity = target

	switch rel.Kind {
	case ManyToOne, OneToOne:
		refField := rel.RefField
		if refField == "" {
			refField = target.Primary.Name
		}
		ref, ok := target.Column(refField)
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "%s.%s: %s has no field %s", e.Table, rel.Field, target.Table, refField)
		}
		if ref.Class == "" {
			return nil, errors.Wrapf(ErrConfiguration, "%s.%s: %s.%s is an unresolved foreign key", e.Table, rel.Field, target.Table, ref.Name)
		}
		rel.RefField = ref.Name
		class, err := r.mapper.ResolveReferenceType(rel.declared, target, ref.Name)
		if err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "%s.%s: %v", e.Table, rel.Field, err)
		}
		rel.Column.Class = class
		return nil, nil

	case OneToMany:
		if rel.MappedBy == "" {
			var candidates []*Relation
			for _, other := range target.Relations {
				if other.Kind.OwnsColumn() && other.Target == e.Type {
					candidates = append(candidates, other)
				}
			}
			if len(candidates) != 1 {
				return nil, errors.Wrapf(ErrConfiguration, "%s.%s: ambiguous relation, %d candidate foreign keys on %s, declare mappedby", e.Table, rel.Field, len(candidates), target.Table)
			}
			rel.MappedBy = candidates[0].Column.Name
		} else {
			c, ok := target.Column(rel.MappedBy)
			if !ok {
				return nil, errors.Wrapf(ErrConfiguration, "%s.%s: %s has no field %s", e.Table, rel.Field, target.Table, rel.MappedBy)
			}
			rel.MappedBy = c.Name
		}
		rel.RefField = e.Primary.Name
		return nil, nil

	case ManyToMany:
		a, b := e, target
		if rel.Side == SideB {
			a, b = target, e
		}
		table := rel.linkTable
		if table == "" {
			table = a.Table + "_" + b.Table
		}

		link, ok := links[table]
		if !ok {
			link = r.tables[strings.ToLower(table)]
		}
		if link == nil {
			link = newLinkEntity(table, a, b)
			links[table] = link
		} else if link.LinkA != a || link.LinkB != b {
			return nil, errors.Wrapf(ErrConfiguration, "%s.%s: link table %s already links %s and %s", e.Table, rel.Field, table, link.LinkA, link.LinkB)
		}
		rel.Link = link
		rel.RefField = e.Primary.Name
		return link, nil
	}
	return nil, errors.Wrapf(ErrConfiguration, "unknown relation kind %v", rel.Kind)
}

// Link 关联实体的列名
const (
	LinkID = "id"
	LinkA  = "a"
	LinkB  = "b"
)

// newLinkEntity 多对多关联表，主键 id 为 (a, b) 的复合键
func newLinkEntity(table string, a, b *Entity) *Entity {
	e := &Entity{
		Table:   table,
		Options: Options{FieldStrategy: Explicit, WithoutRowid: a.Options.WithoutRowid},
		Policy:  a.Policy,
		LinkA:   a,
		LinkB:   b,
		byName:  map[string]*Column{},
		byField: map[string]*Column{},
	}
	id := &Column{Name: LinkID, Class: typemap.TEXT, Nullability: NotNull, Primary: PrimaryPlain}
	_ = e.addColumn(id)
	_ = e.addColumn(&Column{Name: LinkA, Class: a.Primary.Class, Nullability: NotNull, Indexed: true})
	_ = e.addColumn(&Column{Name: LinkB, Class: b.Primary.Class, Nullability: NotNull, Indexed: true})
	e.Primary = id
	e.Indexes = []Index{
		{Name: "idx_" + table + "_" + LinkA, Fields: []string{LinkA}},
		{Name: "idx_" + table + "_" + LinkB, Fields: []string{LinkB}},
	}
	return e
}
