package decoder

import (
	"strings"

	"github.com/hatlonely/orm/cfg/storage"
	"github.com/pkg/errors"
)

// Decoder 配置数据解码器接口，将原始数据解码为存储对象
type Decoder interface {
	Decode(data []byte) (storage.Storage, error)
}

// NewDecoder 根据格式名创建解码器，支持 yaml, yml, json, toml, ini
func NewDecoder(format string) (Decoder, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		return &YamlDecoder{}, nil
	case "json":
		return &JsonDecoder{}, nil
	case "toml":
		return &TomlDecoder{}, nil
	case "ini":
		return NewIniDecoder(), nil
	}
	return nil, errors.Errorf("unsupported config format: %q", format)
}
