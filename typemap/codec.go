package typemap

import (
	"database/sql"
	"database/sql/driver"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// timeLayouts 解析 TEXT 时间的格式，第一个用于写入
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func pow10(scale int) float64 {
	return math.Pow10(scale)
}

// Encode 将字段值转换为驱动可以接收的值
// scale 大于 0 的浮点数按 round(v*10^scale) 编码为整数
func Encode(value any, class StorageClass, scale int) (any, error) {
	if value == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	if rv.Type() == timeType {
		t := rv.Interface().(time.Time)
		if class == INTEGER {
			return t.UnixMilli(), nil
		}
		return t.UTC().Format(timeLayouts[0]), nil
	}
	if rv.Type().Implements(valuerType) {
		v, err := rv.Interface().(driver.Valuer).Value()
		if err != nil {
			return nil, errors.Wrapf(err, "encode %v", rv.Type())
		}
		if t, ok := v.(time.Time); ok {
			return Encode(t, class, scale)
		}
		return v, nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return int64(1), nil
		}
		return int64(0), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, errors.Errorf("value %d overflows INTEGER", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if scale > 0 && class != REAL {
			return int64(math.Round(f * pow10(scale))), nil
		}
		return f, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	}

	return nil, errors.Wrapf(ErrUnmappableType, "encode %v", rv.Type())
}

// Decode 将数据库返回的值写入 dst，dst 必须可设置
func Decode(raw any, class StorageClass, scale int, dst reflect.Value) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := Decode(raw, class, scale, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if dst.Type() == timeType {
		t, err := decodeTime(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		if b, ok := raw.([]byte); ok {
			raw = string(b)
		}
		return errors.Wrapf(dst.Addr().Interface().(sql.Scanner).Scan(raw), "decode %v", dst.Type())
	}

	switch dst.Kind() {
	case reflect.Bool:
		n, err := toInt64(raw)
		if err != nil {
			return err
		}
		dst.SetBool(n != 0)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(raw)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return errors.Errorf("value %d overflows %v", n, dst.Type())
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(raw)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return errors.Errorf("value %d overflows %v", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return err
		}
		if scale > 0 && class != REAL {
			f = f / pow10(scale)
		}
		dst.SetFloat(f)
		return nil
	case reflect.String:
		switch v := raw.(type) {
		case string:
			dst.SetString(v)
		case []byte:
			dst.SetString(string(v))
		case int64:
			dst.SetString(strconv.FormatInt(v, 10))
		case float64:
			dst.SetString(strconv.FormatFloat(v, 'f', -1, 64))
		case time.Time:
			dst.SetString(v.UTC().Format(timeLayouts[0]))
		default:
			return errors.Errorf("cannot decode %T into %v", raw, dst.Type())
		}
		return nil
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch v := raw.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), v...))
			case string:
				dst.SetBytes([]byte(v))
			default:
				return errors.Errorf("cannot decode %T into %v", raw, dst.Type())
			}
			return nil
		}
	}

	return errors.Wrapf(ErrUnmappableType, "decode %v", dst.Type())
}

func decodeTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case []byte:
		return decodeTime(string(v))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, errors.Errorf("cannot parse time %q", v)
	}
	return time.Time{}, errors.Errorf("cannot decode %T into time.Time", raw)
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	}
	return 0, errors.Errorf("cannot decode %T into integer", raw)
}

func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse integer %q", s)
	}
	return int64(f), nil
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case []byte:
		return toFloat64(string(v))
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "cannot parse float %q", v)
		}
		return f, nil
	}
	return 0, errors.Errorf("cannot decode %T into float", raw)
}
