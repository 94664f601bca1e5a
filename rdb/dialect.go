package rdb

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Dialect 将通用 SQL 模板转换为具体数据库的写法
// 模板使用 ? 作为占位符、反引号包裹标识符
type Dialect interface {
	Name() string
	Rebind(query string) string
}

// DialectFor 按驱动名返回方言
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite3":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, errors.Wrap(ErrUnsupportedDriver, driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Rebind(query string) string { return query }

// sqlite 接受 ? 占位符与反引号标识符
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Rebind(query string) string { return query }

// postgresDialect 逐个替换 ? 为 $1, $2 ...，反引号替换为双引号
// 纯文本替换，字符串字面量中的 ? 同样会被替换
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		case '`':
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
