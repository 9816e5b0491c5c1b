package validator

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

// validate 缓存结构体解析结果，并发安全
var validate = validator.New()

// ValidateStruct 使用 validator 校验结构体，nil 和非结构体直接通过
func ValidateStruct(object any) error {
	rv := reflect.ValueOf(object)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Kind() != reflect.Struct {
		return nil
	}
	return validate.Struct(rv.Interface())
}
