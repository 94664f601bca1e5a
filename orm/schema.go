package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/KaiOuYang/WebAppStart/log"
	"github.com/KaiOuYang/WebAppStart/rdb"
)

type SchemaOptions struct {
	// 实体名，Table 为空时作为表名
	Name   string
	Table  string
	Fields []Field
	Logger log.Logger
}

// Schema 实体映射，每个实体构建一次，之后只读，可并发使用
type Schema struct {
	name       string
	table      string
	fields     []Field
	byAttr     map[string]int
	primaryKey Field
	others     []Field

	selectSQL string
	insertSQL string
	updateSQL string
	deleteSQL string

	logger log.Logger
}

// NewSchemaWithOptions 校验字段声明并预生成 select/insert/update/delete 语句模板
func NewSchemaWithOptions(options *SchemaOptions) (*Schema, error) {
	if options == nil || options.Name == "" {
		return nil, errors.WithMessage(ErrConfiguration, "schema name is required")
	}

	s := &Schema{
		name:   options.Name,
		table:  options.Table,
		byAttr: make(map[string]int, len(options.Fields)),
		logger: log.OrDefault(options.Logger).With("model", options.Name),
	}
	if s.table == "" {
		s.table = options.Name
	}

	var pk *Field
	for i, f := range options.Fields {
		if f.attr == "" {
			return nil, errors.Wrapf(ErrInvalidTag, "%s: field %d has no name", s.name, i)
		}
		if _, ok := s.byAttr[f.attr]; ok {
			return nil, errors.Wrapf(ErrDuplicateField, "%s.%s", s.name, f.attr)
		}
		s.byAttr[f.attr] = len(s.fields)
		s.fields = append(s.fields, f)

		if !f.primaryKey {
			s.others = append(s.others, f)
			continue
		}
		if !f.pkAllowed {
			return nil, errors.Wrapf(ErrPrimaryKeyNotAllowed, "%s.%s", s.name, f.attr)
		}
		if pk != nil {
			return nil, errors.Wrapf(ErrDuplicatePrimaryKey, "%s: %s and %s", s.name, pk.attr, f.attr)
		}
		pk = &options.Fields[i]
	}
	if pk == nil {
		return nil, errors.Wrapf(ErrPrimaryKeyNotFound, "%s", s.name)
	}
	s.primaryKey = *pk

	s.compile()
	s.logger.Info("found model", "table", s.table, "primaryKey", s.primaryKey.attr, "fields", len(s.fields))
	return s, nil
}

// MustSchema 用于包级初始化，声明错误直接 panic
func MustSchema(s *Schema, err error) *Schema {
	if err != nil {
		panic(err)
	}
	return s
}

func quote(name string) string {
	return "`" + name + "`"
}

func (s *Schema) compile() {
	pk := quote(s.primaryKey.column)
	table := quote(s.table)

	cols := make([]string, 0, len(s.others))
	sets := make([]string, 0, len(s.others))
	for _, f := range s.others {
		cols = append(cols, quote(f.column))
		sets = append(sets, quote(f.column)+"=?")
	}

	s.selectSQL = fmt.Sprintf("select %s from %s", strings.Join(append([]string{pk}, cols...), ", "), table)
	s.insertSQL = fmt.Sprintf("insert into %s (%s) values (%s)",
		table, strings.Join(append(cols, pk), ", "), placeholders(len(cols)+1))
	s.updateSQL = fmt.Sprintf("update %s set %s where %s=?", table, strings.Join(sets, ", "), pk)
	s.deleteSQL = fmt.Sprintf("delete from %s where %s=?", table, pk)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *Schema) Name() string { return s.name }
func (s *Schema) Table() string { return s.table }
func (s *Schema) PrimaryKey() Field { return s.primaryKey }
func (s *Schema) SelectSQL() string { return s.selectSQL }
func (s *Schema) InsertSQL() string { return s.insertSQL }
func (s *Schema) UpdateSQL() string { return s.updateSQL }
func (s *Schema) DeleteSQL() string { return s.deleteSQL }

// Fields 按声明顺序返回全部字段
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Field 按属性名查找字段
func (s *Schema) Field(attr string) (Field, bool) {
	i, ok := s.byAttr[attr]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// CreateTableSQL 按声明的 SQL 类型生成建表语句
func (s *Schema) CreateTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "create table if not exists %s (\n", quote(s.table))
	for _, f := range s.fields {
		fmt.Fprintf(&b, "  %s %s", quote(f.column), f.sqlType)
		if f.primaryKey {
			b.WriteString(" not null")
		}
		b.WriteString(",\n")
	}
	fmt.Fprintf(&b, "  primary key (%s)\n)", quote(s.primaryKey.column))
	return b.String()
}

// Migrate 建表，表已存在时不做任何事
func (s *Schema) Migrate(ctx context.Context, exec rdb.Executor) error {
	_, err := exec.Execute(ctx, s.CreateTableSQL(), nil)
	return errors.WithMessagef(err, "migrate %s failed", s.table)
}

// New 创建实例，values 中的值按字段类型转换
func (s *Schema) New(values map[string]any) (*Model, error) {
	m := &Model{schema: s, values: make(map[string]Value, len(s.fields))}
	for attr, x := range values {
		if err := m.Assign(attr, x); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *Schema) fromRow(row rdb.Row) (*Model, error) {
	m := &Model{schema: s, values: make(map[string]Value, len(s.fields))}
	for _, f := range s.fields {
		raw, ok := row[f.column]
		if !ok {
			continue
		}
		v, err := Coerce(f.kind, raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", f.column)
		}
		m.values[f.attr] = v
	}
	return m, nil
}

// Find 按主键查询，不存在时返回 ErrRecordNotFound
func (s *Schema) Find(ctx context.Context, exec rdb.Executor, pk any) (*Model, error) {
	query := fmt.Sprintf("%s where %s=?", s.selectSQL, quote(s.primaryKey.column))
	rows, err := exec.Select(ctx, query, []any{argOf(pk)}, 1)
	if err != nil {
		return nil, errors.WithMessagef(err, "find %s failed", s.name)
	}
	if len(rows) == 0 {
		return nil, ErrRecordNotFound
	}
	return s.fromRow(rows[0])
}

type queryOptions struct {
	where     string
	args      []any
	orderBy   string
	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool
}

type QueryOption func(*queryOptions)

// Where 追加条件子句，参数按顺序绑定到子句中的 ?
func Where(clause string, args ...any) QueryOption {
	return func(o *queryOptions) {
		o.where = clause
		o.args = args
	}
}

func OrderBy(expr string) QueryOption {
	return func(o *queryOptions) {
		o.orderBy = expr
	}
}

func Limit(n int) QueryOption {
	return func(o *queryOptions) {
		o.limit = n
		o.hasLimit = true
		o.hasOffset = false
	}
}

// LimitOffset 对应 limit offset, n
func LimitOffset(offset, n int) QueryOption {
	return func(o *queryOptions) {
		o.offset = offset
		o.limit = n
		o.hasLimit = true
		o.hasOffset = true
	}
}

func buildQuery(base string, opts []QueryOption) (string, []any) {
	o := &queryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var b strings.Builder
	b.WriteString(base)
	args := make([]any, 0, len(o.args)+2)
	if o.where != "" {
		b.WriteString(" where ")
		b.WriteString(o.where)
		for _, a := range o.args {
			args = append(args, argOf(a))
		}
	}
	if o.orderBy != "" {
		b.WriteString(" order by ")
		b.WriteString(o.orderBy)
	}
	if o.hasOffset {
		b.WriteString(" limit ?, ?")
		args = append(args, o.offset, o.limit)
	} else if o.hasLimit {
		b.WriteString(" limit ?")
		args = append(args, o.limit)
	}
	return b.String(), args
}

// FindAll 按条件查询多条记录
func (s *Schema) FindAll(ctx context.Context, exec rdb.Executor, opts ...QueryOption) ([]*Model, error) {
	query, args := buildQuery(s.selectSQL, opts)
	rows, err := exec.Select(ctx, query, args, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "findAll %s failed", s.name)
	}

	models := make([]*Model, 0, len(rows))
	for _, row := range rows {
		m, err := s.fromRow(row)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// FindNumber 查询单个标量，如 count(id)，无结果时返回 ErrRecordNotFound
func (s *Schema) FindNumber(ctx context.Context, exec rdb.Executor, selectExpr string, opts ...QueryOption) (Value, error) {
	query, args := buildQuery(fmt.Sprintf("select %s _num_ from %s", selectExpr, quote(s.table)), opts)
	rows, err := exec.Select(ctx, query, args, 1)
	if err != nil {
		return Null(), errors.WithMessagef(err, "findNumber %s failed", s.name)
	}
	if len(rows) == 0 {
		return Null(), ErrRecordNotFound
	}
	return ValueOf(rows[0]["_num_"])
}

func argOf(x any) any {
	if v, ok := x.(Value); ok {
		return v.Any()
	}
	return x
}
