package rdb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported driver")
	ErrPoolClosed        = errors.New("pool is closed")
)

// Row 一行查询结果，列名到驱动原始值，[]byte 已转换为 string
type Row map[string]any

// Executor 语句执行接口，Pool 与 Tx 均实现
type Executor interface {
	// Select 执行查询，size > 0 时最多返回 size 行
	Select(ctx context.Context, query string, args []any, size int) ([]Row, error)
	// Execute 执行写语句，返回影响行数
	Execute(ctx context.Context, query string, args []any, opts ...ExecuteOption) (int64, error)
}

type executeOptions struct {
	autocommit bool
}

type ExecuteOption func(*executeOptions)

// WithAutocommit 为 false 时语句在显式事务中执行，失败回滚，成功提交
func WithAutocommit(autocommit bool) ExecuteOption {
	return func(o *executeOptions) {
		o.autocommit = autocommit
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func queryRows(ctx context.Context, q queryer, query string, args []any, size int) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "rows.Columns failed")
	}

	var result []Row
	for rows.Next() {
		if size > 0 && len(result) >= size {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed")
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows iteration failed")
	}

	return result, nil
}

func execAffected(ctx context.Context, e execer, query string, args []any) (int64, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "RowsAffected failed")
	}
	return n, nil
}
