package decoder

import (
	"strconv"
	"strings"

	"github.com/hatlonely/orm/cfg/storage"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// IniDecoder INI格式解码器
// section 名中的点号表示嵌套，例如 [dialect.options] 对应 dialect.options
type IniDecoder struct {
	// AllowBoolKeys 允许无值的键，值视为 true
	AllowBoolKeys bool
}

func NewIniDecoder() *IniDecoder {
	return &IniDecoder{AllowBoolKeys: true}
}

func (i *IniDecoder) Decode(data []byte) (storage.Storage, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         i.AllowBoolKeys,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode INI")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				next, ok := target[part].(map[string]any)
				if !ok {
					next = map[string]any{}
					target[part] = next
				}
				target = next
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = parseIniValue(key.String())
		}
	}

	return storage.NewMapStorage(result), nil
}

// parseIniValue 尝试将字符串转换为布尔值或数字
func parseIniValue(value string) any {
	if b, err := strconv.ParseBool(value); err == nil && (strings.EqualFold(value, "true") || strings.EqualFold(value, "false")) {
		return b
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
