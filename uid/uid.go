package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Generator 生成字符串主键
type Generator interface {
	Generate() string
}

// UUIDOptions UUID 主键生成配置
type UUIDOptions struct {
	// 版本：v1, v4, v6, v7
	Version string `cfg:"version" def:"v4" validate:"omitempty,oneof=v1 v4 v6 v7"`
	// 去掉中划线，生成 32 位十六进制字符串
	Compact bool `cfg:"compact"`
}

type UUIDGenerator struct {
	version string
	compact bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	g := &UUIDGenerator{version: "v4"}
	if options == nil {
		return g, nil
	}
	switch options.Version {
	case "":
	case "v1", "v4", "v6", "v7":
		g.version = options.Version
	default:
		return nil, errors.Errorf("unsupported uuid version: %s", options.Version)
	}
	g.compact = options.Compact
	return g, nil
}

// NewUUIDGenerator 默认的 v4 生成器
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{version: "v4"}
}

func (g *UUIDGenerator) Generate() string {
	u := g.newUUID()
	if g.compact {
		return hex.EncodeToString(u[:])
	}
	return u.String()
}

// NewUUID 生成 uuid.UUID 类型的主键
func (g *UUIDGenerator) NewUUID() uuid.UUID {
	return g.newUUID()
}

func (g *UUIDGenerator) newUUID() uuid.UUID {
	switch g.version {
	case "v1":
		return uuid.Must(uuid.NewUUID())
	case "v6":
		return uuid.Must(uuid.NewV6())
	case "v7":
		return uuid.Must(uuid.NewV7())
	default:
		return uuid.New()
	}
}
