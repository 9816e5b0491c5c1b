package decoder

import (
	"github.com/BurntSushi/toml"
	"github.com/hatlonely/orm/cfg/storage"
	"github.com/pkg/errors"
)

// TomlDecoder TOML格式解码器
type TomlDecoder struct{}

func (t *TomlDecoder) Decode(data []byte) (storage.Storage, error) {
	result := map[string]any{}
	if _, err := toml.Decode(string(data), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML")
	}
	return storage.NewMapStorage(result), nil
}
