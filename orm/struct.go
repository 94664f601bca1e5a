package orm

import (
	"reflect"
	"strings"

	"github.com/muir/reflectutils"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// tableNamer 结构体实现 Table() 时作为表名
type tableNamer interface {
	Table() string
}

type taggedField struct {
	index []int
	field Field
}

// NewSchemaFromStruct 从 orm tag 构建 Schema，只处理带 orm tag 的字段
//
//	ID        string  `orm:"id,pk,ddl=varchar(50),factory=next_id"`
//	Admin     bool    `orm:"admin"`
//	About     string  `orm:"about,text"`
//	CreatedAt float64 `orm:"created_at,factory=now"`
//
// options.Fields 被忽略；Name 为空时使用类型名，Table 为空时优先使用 Table() 方法
func NewSchemaFromStruct(v any, options *SchemaOptions) (*Schema, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrConfiguration, "%T is not a struct", v)
	}

	tagged, err := structFields(t)
	if err != nil {
		return nil, err
	}

	o := SchemaOptions{}
	if options != nil {
		o = *options
	}
	if o.Name == "" {
		o.Name = t.Name()
	}
	if o.Table == "" {
		if tn, ok := v.(tableNamer); ok {
			o.Table = tn.Table()
		}
	}
	o.Fields = make([]Field, 0, len(tagged))
	for _, tf := range tagged {
		o.Fields = append(o.Fields, tf.field)
	}

	return NewSchemaWithOptions(&o)
}

func structFields(t reflect.Type) ([]taggedField, error) {
	var result []taggedField
	var walkErr error
	reflectutils.WalkStructElements(t, func(sf reflect.StructField) bool {
		tag, ok := sf.Tag.Lookup("orm")
		if !ok || tag == "-" || !sf.IsExported() {
			// 只展开匿名嵌入的结构体
			return sf.Anonymous
		}
		f, err := parseField(sf, tag)
		if err != nil {
			if walkErr == nil {
				walkErr = err
			}
			return false
		}
		result = append(result, taggedField{index: sf.Index, field: f})
		return false
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return result, nil
}

func kindOf(t reflect.Type) (Kind, bool) {
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Bool:
		return KindBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	default:
		return KindNull, false
	}
}

func parseField(sf reflect.StructField, tag string) (Field, error) {
	parts := splitTag(tag)
	attr := parts[0]
	if attr == "" {
		attr = strings.ToLower(sf.Name)
	}

	kind, ok := kindOf(sf.Type)
	if !ok {
		return Field{}, errors.Wrapf(ErrInvalidTag, "field %s: unsupported type %s", sf.Name, sf.Type)
	}

	var opts []FieldOption
	text := false
	var defaultRaw *string
	for _, p := range parts[1:] {
		key, val, _ := strings.Cut(p, "=")
		switch key {
		case "pk":
			opts = append(opts, PrimaryKey())
		case "text":
			text = true
		case "ddl":
			opts = append(opts, DDL(val))
		case "column":
			opts = append(opts, Column(val))
		case "default":
			defaultRaw = &val
		case "factory":
			fn, ok := lookupFactory(val)
			if !ok {
				return Field{}, errors.Wrapf(ErrUnknownFactory, "field %s: %s", sf.Name, val)
			}
			opts = append(opts, DefaultFunc(fn))
		default:
			return Field{}, errors.Wrapf(ErrInvalidTag, "field %s: unknown option %q", sf.Name, p)
		}
	}
	if defaultRaw != nil {
		v, err := Coerce(kind, *defaultRaw)
		if err != nil {
			return Field{}, errors.Wrapf(ErrInvalidTag, "field %s: bad default %q", sf.Name, *defaultRaw)
		}
		// 固定默认值放在最前，工厂优先
		opts = append([]FieldOption{Default(v)}, opts...)
	}

	switch {
	case text:
		if kind != KindString {
			return Field{}, errors.Wrapf(ErrInvalidTag, "field %s: text requires a string", sf.Name)
		}
		return TextField(attr, opts...), nil
	case kind == KindString:
		return StringField(attr, opts...), nil
	case kind == KindBool:
		return BooleanField(attr, opts...), nil
	case kind == KindInt:
		return IntegerField(attr, opts...), nil
	default:
		return FloatField(attr, opts...), nil
	}
}

// splitTag 按逗号切分，括号内的逗号保留，如 ddl=decimal(10,2)
func splitTag(tag string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range tag {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(tag[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(tag[start:]))
}

func structValue(dest any) (reflect.Value, error) {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errors.Errorf("dest must be a non-nil pointer to struct, got %T", dest)
	}
	return rv.Elem(), nil
}

// NewFromStruct 从 orm tag 结构体创建实例，零值且字段有默认值时保持未赋值
func (s *Schema) NewFromStruct(v any) (*Model, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	tagged, err := structFields(rv.Type())
	if err != nil {
		return nil, err
	}

	m := &Model{schema: s, values: make(map[string]Value, len(s.fields))}
	for _, tf := range tagged {
		f, ok := s.Field(tf.field.attr)
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(tf.index)
		if fv.IsZero() && f.hasDefault {
			continue
		}
		if err := m.Assign(f.attr, fv.Interface()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Scan 将已赋值的属性写入 orm tag 结构体
func (m *Model) Scan(dest any) error {
	rv, err := structValue(dest)
	if err != nil {
		return err
	}

	tagged, err := structFields(rv.Type())
	if err != nil {
		return err
	}

	for _, tf := range tagged {
		v, ok := m.values[tf.field.attr]
		if !ok {
			continue
		}
		if err := setReflectValue(rv.FieldByIndex(tf.index), v); err != nil {
			return errors.WithMessagef(err, "scan %s", tf.field.attr)
		}
	}
	return nil
}

func setReflectValue(fv reflect.Value, v Value) error {
	if v.IsNull() {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	x := v.Any()
	switch fv.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(x)
		if err != nil {
			return errors.Wrap(ErrTypeMismatch, err.Error())
		}
		fv.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(x)
		if err != nil {
			return errors.Wrap(ErrTypeMismatch, err.Error())
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt64E(x)
		if err != nil {
			return errors.Wrap(ErrTypeMismatch, err.Error())
		}
		fv.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := cast.ToUint64E(x)
		if err != nil {
			return errors.Wrap(ErrTypeMismatch, err.Error())
		}
		fv.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return errors.Wrap(ErrTypeMismatch, err.Error())
		}
		fv.SetFloat(f)
	default:
		return errors.Wrapf(ErrTypeMismatch, "unsupported field type %s", fv.Type())
	}
	return nil
}
