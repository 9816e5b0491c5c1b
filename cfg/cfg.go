package cfg

import (
	"os"
	"path/filepath"

	"github.com/hatlonely/orm/cfg/decoder"
	"github.com/hatlonely/orm/cfg/validator"
	"github.com/pkg/errors"
)

// Load 将 format 格式的配置数据加载到 object
// 先根据 def tag 设置默认值，再用配置覆盖，最后根据 validate tag 校验
func Load(data []byte, format string, object any) error {
	d, err := decoder.NewDecoder(format)
	if err != nil {
		return err
	}

	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}

	s, err := d.Decode(data)
	if err != nil {
		return err
	}
	if err := s.ConvertTo(object); err != nil {
		return errors.WithMessage(err, "storage.ConvertTo failed")
	}

	// 配置中新出现的嵌套结构体同样需要默认值
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}

	if err := validator.ValidateStruct(object); err != nil {
		return errors.Wrap(err, "validate failed")
	}
	return nil
}

// LoadFile 读取配置文件，格式由扩展名决定
func LoadFile(path string, object any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return Load(data, filepath.Ext(path), object)
}
