package orm

import (
	"sync"

	"github.com/pkg/errors"
)

// Field 实体字段声明，构建后不可变
type Field struct {
	attr        string
	column      string
	sqlType     string
	kind        Kind
	primaryKey  bool
	pkAllowed   bool
	hasDefault  bool
	defaultVal  Value
	defaultFunc func() Value
}

type FieldOption func(*Field)

// PrimaryKey 标记为主键
func PrimaryKey() FieldOption {
	return func(f *Field) {
		f.primaryKey = true
	}
}

// Column 指定列名，默认与属性名相同
func Column(name string) FieldOption {
	return func(f *Field) {
		f.column = name
	}
}

// DDL 指定列的 SQL 类型
func DDL(sqlType string) FieldOption {
	return func(f *Field) {
		f.sqlType = sqlType
	}
}

// Default 固定默认值
func Default(v Value) FieldOption {
	return func(f *Field) {
		f.hasDefault = true
		f.defaultVal = v
		f.defaultFunc = nil
	}
}

// DefaultFunc 默认值工厂，每次解析默认值时调用
func DefaultFunc(fn func() Value) FieldOption {
	return func(f *Field) {
		f.hasDefault = fn != nil
		f.defaultFunc = fn
	}
}

func newField(attr string, kind Kind, sqlType string, pkAllowed bool, opts []FieldOption) Field {
	f := Field{attr: attr, kind: kind, sqlType: sqlType, pkAllowed: pkAllowed}
	for _, opt := range opts {
		opt(&f)
	}
	if f.column == "" {
		f.column = attr
	}
	return f
}

// StringField varchar(100)，无默认值
func StringField(attr string, opts ...FieldOption) Field {
	return newField(attr, KindString, "varchar(100)", true, opts)
}

// BooleanField boolean，默认 false，不能作为主键
func BooleanField(attr string, opts ...FieldOption) Field {
	return newField(attr, KindBool, "boolean", false, append([]FieldOption{Default(Bool(false))}, opts...))
}

// IntegerField bigint，默认 0
func IntegerField(attr string, opts ...FieldOption) Field {
	return newField(attr, KindInt, "bigint", true, append([]FieldOption{Default(Int(0))}, opts...))
}

// FloatField real，默认 0.0
func FloatField(attr string, opts ...FieldOption) Field {
	return newField(attr, KindFloat, "real", true, append([]FieldOption{Default(Float(0))}, opts...))
}

// TextField text，无默认值，不能作为主键
func TextField(attr string, opts ...FieldOption) Field {
	return newField(attr, KindString, "text", false, opts)
}

func (f Field) Attr() string { return f.attr }
func (f Field) Column() string { return f.column }
func (f Field) SQLType() string { return f.sqlType }
func (f Field) Kind() Kind { return f.kind }
func (f Field) PrimaryKey() bool { return f.primaryKey }
func (f Field) HasDefault() bool { return f.hasDefault }

// Default 解析默认值，工厂每次调用都会重新执行，无默认值时返回 null
func (f Field) Default() Value {
	if f.defaultFunc != nil {
		return f.defaultFunc()
	}
	if f.hasDefault {
		return f.defaultVal
	}
	return Null()
}

// accept 检查值类型是否与字段匹配，null 总是允许
func (f Field) accept(v Value) error {
	if v.IsNull() || v.Kind() == f.kind {
		return nil
	}
	return errors.Wrapf(ErrTypeMismatch, "field %s expects %s, got %s", f.attr, f.kind, v.Kind())
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]func() Value{}
)

// RegisterFactory 注册命名的默认值工厂，供 struct tag 中 factory=name 引用
func RegisterFactory(name string, fn func() Value) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = fn
}

func lookupFactory(name string) (func() Value, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	fn, ok := factories[name]
	return fn, ok
}
