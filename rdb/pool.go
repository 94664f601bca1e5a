package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/KaiOuYang/WebAppStart/cfg"
	"github.com/KaiOuYang/WebAppStart/log"
)

type Options struct {
	// 驱动：mysql, sqlite3, postgres
	Driver string `cfg:"driver" def:"mysql" validate:"oneof=mysql sqlite3 postgres"`
	// 非空时直接使用，忽略 Host/Port 等连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     int    `cfg:"port"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`

	MaxConns        int           `cfg:"maxConns" def:"10" validate:"gte=1"`
	MaxIdle         int           `cfg:"maxIdle" def:"5" validate:"gte=0"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime" def:"1h"`

	// 写语句默认是否自动提交，为空时为 true
	Autocommit *bool `cfg:"autocommit"`

	// Name 用于指标前缀和 tracer 名称
	Name          string `cfg:"name" def:"rdb"`
	EnableMetrics bool   `cfg:"enableMetrics"`
	EnableTracing bool   `cfg:"enableTracing"`
}

// BuildDSN 按驱动拼接连接串
func (o *Options) BuildDSN() (string, error) {
	if o.DSN != "" {
		return o.DSN, nil
	}

	switch o.Driver {
	case "mysql":
		port := o.Port
		if port == 0 {
			port = 3306
		}
		c := mysql.NewConfig()
		c.User = o.Username
		c.Passwd = o.Password
		c.Net = "tcp"
		c.Addr = net.JoinHostPort(o.Host, strconv.Itoa(port))
		c.DBName = o.Database
		c.Params = map[string]string{"charset": o.Charset}
		return c.FormatDSN(), nil
	case "sqlite3":
		if o.Database == "" {
			return ":memory:", nil
		}
		return o.Database, nil
	case "postgres":
		port := o.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			o.Host, port, o.Username, o.Password, o.Database), nil
	default:
		return "", errors.Wrap(ErrUnsupportedDriver, o.Driver)
	}
}

type poolOptions struct {
	logger     log.Logger
	registerer prometheus.Registerer
}

type PoolOption func(*poolOptions)

func WithLogger(l log.Logger) PoolOption {
	return func(o *poolOptions) {
		o.logger = l
	}
}

// WithRegisterer 指定指标注册器，默认 prometheus.DefaultRegisterer
func WithRegisterer(r prometheus.Registerer) PoolOption {
	return func(o *poolOptions) {
		o.registerer = r
	}
}

// Pool 进程内共享的连接池，由调用方显式创建和关闭
type Pool struct {
	db         *sql.DB
	dialect    Dialect
	autocommit bool
	closed     atomic.Bool

	logger  log.Logger
	metrics *poolMetrics
	tracer  trace.Tracer
	name    string
}

// NewPoolWithOptions 创建连接池并 Ping 确认可用
func NewPoolWithOptions(ctx context.Context, options *Options, opts ...PoolOption) (*Pool, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	o := *options
	if err := cfg.SetDefaults(&o); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(&o); err != nil {
		return nil, errors.WithMessage(err, "invalid rdb options")
	}

	po := &poolOptions{}
	for _, opt := range opts {
		opt(po)
	}

	dialect, err := DialectFor(o.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := o.BuildDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(o.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open failed")
	}
	db.SetMaxOpenConns(o.MaxConns)
	db.SetMaxIdleConns(o.MaxIdle)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping failed")
	}

	p := &Pool{
		db:         db,
		dialect:    dialect,
		autocommit: o.Autocommit == nil || *o.Autocommit,
		logger:     log.OrDefault(po.logger).WithGroup("rdb"),
		name:       o.Name,
	}
	if o.EnableMetrics {
		r := po.registerer
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		p.metrics = newPoolMetrics(o.Name, r)
	}
	if o.EnableTracing {
		p.tracer = otel.Tracer("rdb." + o.Name)
	}

	p.logger.Info("create database connection pool", "driver", o.Driver, "maxConns", o.MaxConns)
	return p, nil
}

func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// DB 返回底层 *sql.DB，用于迁移等批量操作
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close 关闭连接池，重复调用安全
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

func (p *Pool) Select(ctx context.Context, query string, args []any, size int) ([]Row, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.logger.DebugContext(ctx, "SQL", "query", query, "args", args)

	var rows []Row
	err := p.observe(ctx, "select", query, func(ctx context.Context) error {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return errors.Wrap(err, "acquire connection failed")
		}
		defer conn.Close()

		rows, err = queryRows(ctx, conn, p.dialect.Rebind(query), args, size)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "rows returned", "count", len(rows))
	return rows, nil
}

func (p *Pool) Execute(ctx context.Context, query string, args []any, opts ...ExecuteOption) (int64, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	eo := &executeOptions{autocommit: p.autocommit}
	for _, opt := range opts {
		opt(eo)
	}

	p.logger.DebugContext(ctx, "SQL", "query", query, "args", args, "autocommit", eo.autocommit)

	var affected int64
	err := p.observe(ctx, "execute", query, func(ctx context.Context) error {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return errors.Wrap(err, "acquire connection failed")
		}
		defer conn.Close()

		q := p.dialect.Rebind(query)
		if eo.autocommit {
			affected, err = execAffected(ctx, conn, q, args)
			return err
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin transaction failed")
		}
		n, err := execAffected(ctx, tx, q, args)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				p.logger.WarnContext(ctx, "rollback failed", "error", rbErr.Error())
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "commit failed")
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// WithTx 在一个事务中执行 fn，fn 返回错误或 panic 时回滚，否则提交
func (p *Pool) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction failed")
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Tx{tx: sqlTx, pool: p}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			p.logger.WarnContext(ctx, "rollback failed", "error", rbErr.Error())
		}
		return err
	}

	return errors.Wrap(sqlTx.Commit(), "commit failed")
}

// Tx 事务内的执行器，ExecuteOption 被忽略
type Tx struct {
	tx   *sql.Tx
	pool *Pool
}

func (t *Tx) Select(ctx context.Context, query string, args []any, size int) ([]Row, error) {
	t.pool.logger.DebugContext(ctx, "SQL", "query", query, "args", args, "tx", true)

	var rows []Row
	err := t.pool.observe(ctx, "select", query, func(ctx context.Context) error {
		var err error
		rows, err = queryRows(ctx, t.tx, t.pool.dialect.Rebind(query), args, size)
		return err
	})
	return rows, err
}

func (t *Tx) Execute(ctx context.Context, query string, args []any, _ ...ExecuteOption) (int64, error) {
	t.pool.logger.DebugContext(ctx, "SQL", "query", query, "args", args, "tx", true)

	var affected int64
	err := t.pool.observe(ctx, "execute", query, func(ctx context.Context) error {
		var err error
		affected, err = execAffected(ctx, t.tx, t.pool.dialect.Rebind(query), args)
		return err
	})
	return affected, err
}
