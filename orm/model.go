package orm

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/KaiOuYang/WebAppStart/rdb"
)

// Model 实体实例，属性名到值的映射，绑定到一个 Schema
// 未赋值的属性读取时按字段默认值解析并写回
type Model struct {
	schema *Schema
	values map[string]Value
}

func (m *Model) Schema() *Schema {
	return m.schema
}

func (m *Model) field(attr string) (Field, error) {
	f, ok := m.schema.Field(attr)
	if !ok {
		return Field{}, errors.Wrapf(ErrUnknownField, "%s.%s", m.schema.name, attr)
	}
	return f, nil
}

// Get 读取属性值，未赋值时解析默认值并保存，之后读取返回同一个值
func (m *Model) Get(attr string) (Value, error) {
	f, err := m.field(attr)
	if err != nil {
		return Null(), err
	}
	return m.valueOrDefault(f), nil
}

func (m *Model) valueOrDefault(f Field) Value {
	if v, ok := m.values[f.attr]; ok && !v.IsNull() {
		return v
	}
	if !f.hasDefault {
		return m.values[f.attr]
	}
	v := f.Default()
	m.schema.logger.Debug("using default value", "field", f.attr, "value", v.String())
	m.values[f.attr] = v
	return v
}

// Lookup 读取原始值，不解析默认值
func (m *Model) Lookup(attr string) (Value, bool) {
	v, ok := m.values[attr]
	return v, ok
}

// Set 设置属性值，类型必须与字段一致，null 总是允许
func (m *Model) Set(attr string, v Value) error {
	f, err := m.field(attr)
	if err != nil {
		return err
	}
	if err := f.accept(v); err != nil {
		return err
	}
	m.values[attr] = v
	return nil
}

// Assign 将 Go 原生值按字段类型转换后设置
func (m *Model) Assign(attr string, x any) error {
	f, err := m.field(attr)
	if err != nil {
		return err
	}
	v, err := Coerce(f.kind, x)
	if err != nil {
		return errors.WithMessagef(err, "%s.%s", m.schema.name, attr)
	}
	m.values[attr] = v
	return nil
}

// Map 返回已赋值属性的快照
func (m *Model) Map() map[string]any {
	result := make(map[string]any, len(m.values))
	for _, f := range m.schema.fields {
		if v, ok := m.values[f.attr]; ok {
			result[f.attr] = v.Any()
		}
	}
	return result
}

func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// Save 插入记录，未赋值的字段使用默认值，主键参数在最后
func (m *Model) Save(ctx context.Context, exec rdb.Executor) error {
	args := make([]any, 0, len(m.schema.fields))
	for _, f := range m.schema.others {
		args = append(args, m.valueOrDefault(f).Any())
	}
	args = append(args, m.valueOrDefault(m.schema.primaryKey).Any())

	rows, err := exec.Execute(ctx, m.schema.insertSQL, args)
	if err != nil {
		return errors.WithMessagef(err, "insert %s failed", m.schema.name)
	}
	if rows != 1 {
		m.schema.logger.WarnContext(ctx, "failed to insert record", "affectedRows", rows)
	}
	return nil
}

// Update 按主键更新全部非主键字段，不解析默认值，未赋值的字段写入 null
func (m *Model) Update(ctx context.Context, exec rdb.Executor) error {
	args := make([]any, 0, len(m.schema.fields))
	for _, f := range m.schema.others {
		args = append(args, m.values[f.attr].Any())
	}
	args = append(args, m.values[m.schema.primaryKey.attr].Any())

	rows, err := exec.Execute(ctx, m.schema.updateSQL, args)
	if err != nil {
		return errors.WithMessagef(err, "update %s failed", m.schema.name)
	}
	if rows != 1 {
		m.schema.logger.WarnContext(ctx, "failed to update by primary key", "affectedRows", rows)
	}
	return nil
}

// Remove 按主键删除
func (m *Model) Remove(ctx context.Context, exec rdb.Executor) error {
	args := []any{m.values[m.schema.primaryKey.attr].Any()}

	rows, err := exec.Execute(ctx, m.schema.deleteSQL, args)
	if err != nil {
		return errors.WithMessagef(err, "remove %s failed", m.schema.name)
	}
	if rows != 1 {
		m.schema.logger.WarnContext(ctx, "failed to remove by primary key", "affectedRows", rows)
	}
	return nil
}
