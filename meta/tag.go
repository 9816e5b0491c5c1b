package meta

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TagKey 结构体字段 tag 的键
//
//	orm:"name,pk,autoincrement"
//	orm:"price,notnull,scale=2,default=0"
//	orm:"bankId,manytoone,ref=id,lazy"
//	orm:",onetomany,mappedby=bankId"
//	orm:",manytomany,side=A,link=AccountTag"
//	orm:"age,check=age >= 0 AND age < 200"
//
// check 之后的内容全部作为约束表达式，default 的值可以用单引号包含逗号
const TagKey = "orm"

type fieldTag struct {
	name string

	primary       bool
	autoIncrement bool
	uuid          bool
	notNull       bool
	nullable      bool
	unique        bool
	index         bool
	lazy          bool

	hasDefault   bool
	defaultValue string
	typ          string
	scale        int
	check        string

	kind     *RelationKind
	ref      string
	mappedBy string
	link     string
	side     Side
	depth    int
}

var relationKinds = map[string]RelationKind{
	"manytoone":  ManyToOne,
	"onetoone":   OneToOne,
	"onetomany":  OneToMany,
	"manytomany": ManyToMany,
}

func parseTag(raw string) (*fieldTag, error) {
	parts := splitTag(raw)
	t := &fieldTag{name: strings.TrimSpace(parts[0])}

	for _, part := range parts[1:] {
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if hasValue && key != "check" && key != "default" {
			value = strings.TrimSpace(value)
		}

		switch key {
		case "":
		case "pk", "primary":
			t.primary = true
		case "autoincrement":
			t.primary, t.autoIncrement = true, true
		case "uuid":
			t.primary, t.uuid = true, true
		case "notnull", "required":
			t.notNull = true
		case "nullable":
			t.nullable = true
		case "unique":
			t.unique = true
		case "index":
			t.index = true
		case "lazy":
			t.lazy = true
		case "default":
			t.hasDefault, t.defaultValue = true, strings.TrimSpace(value)
		case "type":
			t.typ = strings.ToUpper(value)
		case "scale":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, errors.Wrapf(ErrConfiguration, "invalid scale %q", value)
			}
			t.scale = n
		case "check":
			t.check = strings.TrimSpace(value)
		case "ref":
			t.ref = value
		case "mappedby":
			t.mappedBy = value
		case "link":
			t.link = value
		case "side":
			switch strings.ToUpper(value) {
			case "A":
				t.side = SideA
			case "B":
				t.side = SideB
			default:
				return nil, errors.Wrapf(ErrConfiguration, "invalid side %q", value)
			}
		case "depth":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, errors.Wrapf(ErrConfiguration, "invalid depth %q", value)
			}
			t.depth = n
		default:
			kind, ok := relationKinds[key]
			if !ok || hasValue {
				return nil, errors.Wrapf(ErrConfiguration, "unknown tag option %q", part)
			}
			if t.kind != nil {
				return nil, errors.Wrapf(ErrConfiguration, "multiple relation kinds in %q", raw)
			}
			t.kind = &kind
		}
	}

	if t.notNull && t.nullable {
		return nil, errors.Wrapf(ErrConfiguration, "notnull and nullable both set in %q", raw)
	}
	return t, nil
}

// splitTag 按逗号拆分，忽略单引号和括号中的逗号，check= 之后不再拆分
func splitTag(raw string) []string {
	var parts []string
	depth, quoted, start := 0, false, 0

	for i := 0; i < len(raw); i++ {
		if i == start && len(parts) > 0 && strings.HasPrefix(strings.TrimLeft(raw[i:], " "), "check=") {
			parts = append(parts, raw[i:])
			return parts
		}
		switch raw[i] {
		case '\'':
			quoted = !quoted
		case '(':
			if !quoted {
				depth++
			}
		case ')':
			if !quoted && depth > 0 {
				depth--
			}
		case ',':
			if !quoted && depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, raw[start:])
}
