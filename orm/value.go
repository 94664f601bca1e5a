package orm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Kind 字段值类型
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value 字段值，null/string/bool/int/float 之一，零值为 null
type Value struct {
	kind Kind
	s    string
	b    bool
	i    int64
	f    float64
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Str() string { return v.s }
func (v Value) Bool() bool { return v.b }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }

// Any 返回 Go 原生值：nil, string, bool, int64, float64
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	default:
		return nil
	}
}

// Value 实现 driver.Valuer
func (v Value) Value() (driver.Value, error) {
	return v.Any(), nil
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return fmt.Sprint(v.Any())
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// ValueOf 将 Go 原生值转换为 Value，类型由值本身决定
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case bool:
		return Bool(t), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, err := cast.ToInt64E(t)
		if err != nil {
			return Null(), errors.Wrap(ErrTypeMismatch, err.Error())
		}
		return Int(i), nil
	case float32, float64:
		return Float(cast.ToFloat64(t)), nil
	default:
		return Null(), errors.Wrapf(ErrTypeMismatch, "unsupported value type %T", x)
	}
}

// Coerce 将任意值转换为指定类型，nil 始终转换为 null
func Coerce(kind Kind, x any) (Value, error) {
	if x == nil {
		return Null(), nil
	}
	if v, ok := x.(Value); ok {
		if v.kind == KindNull {
			return v, nil
		}
		x = v.Any()
	}

	var err error
	switch kind {
	case KindString:
		var s string
		if s, err = cast.ToStringE(x); err == nil {
			return String(s), nil
		}
	case KindBool:
		var b bool
		if b, err = cast.ToBoolE(x); err == nil {
			return Bool(b), nil
		}
	case KindInt:
		var i int64
		if i, err = toInt64E(x); err == nil {
			return Int(i), nil
		}
	case KindFloat:
		var f float64
		if f, err = cast.ToFloat64E(x); err == nil {
			return Float(f), nil
		}
	default:
		return ValueOf(x)
	}

	return Null(), errors.Wrapf(ErrTypeMismatch, "cannot convert %T to %s: %v", x, kind, err)
}

// toInt64E 字符串按十进制解析，浮点数必须是整数值
func toInt64E(x any) (int64, error) {
	switch t := x.(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.Errorf("%q is not a decimal integer", t)
		}
		return i, nil
	case []byte:
		return toInt64E(string(t))
	case float32:
		return floatToInt64(float64(t))
	case float64:
		return floatToInt64(t)
	default:
		return cast.ToInt64E(x)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}
