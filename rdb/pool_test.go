package rdb

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/KaiOuYang/WebAppStart/log"
)

var dbSeq int

// newTestPool 每次返回独立的共享缓存内存库，同一个 Pool 内的连接看到同一份数据
func newTestPool(opts ...PoolOption) *Pool {
	dbSeq++
	autocommit := true
	pool, err := NewPoolWithOptions(context.Background(), &Options{
		Driver:     "sqlite3",
		DSN:        fmt.Sprintf("file:rdb_test_%d?mode=memory&cache=shared", dbSeq),
		MaxConns:   1,
		MaxIdle:    1,
		Autocommit: &autocommit,
	}, append([]PoolOption{WithLogger(log.NewNop())}, opts...)...)
	So(err, ShouldBeNil)
	return pool
}

func TestOptionsBuildDSN(t *testing.T) {
	Convey("测试 Options.BuildDSN", t, func() {
		Convey("mysql 拼接连接串", func() {
			o := &Options{Driver: "mysql", Host: "127.0.0.1", Username: "www-data", Password: "www-data", Database: "awesome", Charset: "utf8"}
			dsn, err := o.BuildDSN()
			So(err, ShouldBeNil)
			So(dsn, ShouldStartWith, "www-data:www-data@tcp(127.0.0.1:3306)/awesome")
			So(dsn, ShouldContainSubstring, "charset=utf8")
		})

		Convey("postgres 默认端口 5432", func() {
			o := &Options{Driver: "postgres", Host: "db", Username: "u", Password: "p", Database: "d"}
			dsn, err := o.BuildDSN()
			So(err, ShouldBeNil)
			So(dsn, ShouldContainSubstring, "port=5432")
		})

		Convey("显式 DSN 优先", func() {
			o := &Options{Driver: "mysql", DSN: "custom"}
			dsn, err := o.BuildDSN()
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "custom")
		})

		Convey("不支持的驱动", func() {
			_, err := (&Options{Driver: "oracle"}).BuildDSN()
			So(errors.Is(err, ErrUnsupportedDriver), ShouldBeTrue)
		})
	})
}

func TestDialect(t *testing.T) {
	Convey("测试 Dialect.Rebind", t, func() {
		Convey("mysql 与 sqlite 原样返回", func() {
			for _, driver := range []string{"mysql", "sqlite3"} {
				d, err := DialectFor(driver)
				So(err, ShouldBeNil)
				So(d.Rebind("select `id` from `users` where `id`=?"), ShouldEqual, "select `id` from `users` where `id`=?")
			}
		})

		Convey("postgres 替换占位符与标识符引号", func() {
			d, err := DialectFor("postgres")
			So(err, ShouldBeNil)
			So(d.Rebind("update `users` set `name`=?, `email`=? where `id`=?"),
				ShouldEqual, `update "users" set "name"=$1, "email"=$2 where "id"=$3`)
		})

		Convey("未知驱动", func() {
			_, err := DialectFor("oracle")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewPoolWithOptions(t *testing.T) {
	Convey("测试 NewPoolWithOptions", t, func() {
		Convey("nil options", func() {
			_, err := NewPoolWithOptions(context.Background(), nil)
			So(err, ShouldNotBeNil)
		})

		Convey("非法驱动校验失败", func() {
			_, err := NewPoolWithOptions(context.Background(), &Options{Driver: "oracle"})
			So(err, ShouldNotBeNil)
		})

		Convey("不修改调用方的 options", func() {
			o := &Options{Driver: "sqlite3", DSN: ":memory:"}
			pool, err := NewPoolWithOptions(context.Background(), o, WithLogger(log.NewNop()))
			So(err, ShouldBeNil)
			defer pool.Close()
			So(o.MaxConns, ShouldEqual, 0)
			So(pool.Dialect().Name(), ShouldEqual, "sqlite3")
			So(pool.autocommit, ShouldBeTrue)
		})
	})
}

func TestPoolSelectExecute(t *testing.T) {
	Convey("测试 Pool.Select 与 Pool.Execute", t, func() {
		ctx := context.Background()
		pool := newTestPool()
		defer pool.Close()

		_, err := pool.Execute(ctx, "create table `users` (`id` varchar(50) primary key, `name` varchar(50), `admin` boolean, `score` real)", nil)
		So(err, ShouldBeNil)

		for i := 1; i <= 3; i++ {
			n, err := pool.Execute(ctx, "insert into `users` (`name`, `admin`, `score`, `id`) values (?, ?, ?, ?)",
				[]any{fmt.Sprintf("user%d", i), i == 1, float64(i) / 2, fmt.Sprintf("%03d", i)})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		}

		Convey("返回全部行", func() {
			rows, err := pool.Select(ctx, "select `id`, `name` from `users` order by `id`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)
			So(rows[0]["id"], ShouldEqual, "001")
			So(rows[2]["name"], ShouldEqual, "user3")
		})

		Convey("size 限制返回行数", func() {
			rows, err := pool.Select(ctx, "select * from `users` order by `id`", nil, 2)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
		})

		Convey("无匹配行返回空", func() {
			rows, err := pool.Select(ctx, "select * from `users` where `id`=?", []any{"nope"}, 1)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("更新返回影响行数", func() {
			n, err := pool.Execute(ctx, "update `users` set `score`=? where `admin`=?", []any{9.5, false})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})

		Convey("非自动提交模式成功后提交", func() {
			n, err := pool.Execute(ctx, "delete from `users` where `id`=?", []any{"001"}, WithAutocommit(false))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			rows, err := pool.Select(ctx, "select * from `users`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
		})

		Convey("非自动提交模式失败后回滚并返回错误", func() {
			_, err := pool.Execute(ctx, "insert into `users` (`id`, `name`) values (?, ?)", []any{"001", "dup"}, WithAutocommit(false))
			So(err, ShouldNotBeNil)

			rows, err := pool.Select(ctx, "select `name` from `users` where `id`=?", []any{"001"}, 1)
			So(err, ShouldBeNil)
			So(rows[0]["name"], ShouldEqual, "user1")
		})

		Convey("SQL 错误后连接被释放", func() {
			_, err := pool.Select(ctx, "select * from `missing`", nil, 0)
			So(err, ShouldNotBeNil)

			// MaxConns=1，连接未归还时这里会阻塞
			rows, err := pool.Select(ctx, "select * from `users`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)
		})

		Convey("取消的 context", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := pool.Select(cctx, "select * from `users`", nil, 0)
			So(err, ShouldNotBeNil)

			rows, err := pool.Select(ctx, "select * from `users`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)
		})
	})
}

func TestPoolWithTx(t *testing.T) {
	Convey("测试 Pool.WithTx", t, func() {
		ctx := context.Background()
		pool := newTestPool()
		defer pool.Close()

		_, err := pool.Execute(ctx, "create table `kv` (`k` varchar(10) primary key, `v` bigint)", nil)
		So(err, ShouldBeNil)

		Convey("成功提交", func() {
			err := pool.WithTx(ctx, func(tx *Tx) error {
				if _, err := tx.Execute(ctx, "insert into `kv` values (?, ?)", []any{"a", 1}); err != nil {
					return err
				}
				_, err := tx.Execute(ctx, "insert into `kv` values (?, ?)", []any{"b", 2})
				return err
			})
			So(err, ShouldBeNil)

			rows, err := pool.Select(ctx, "select * from `kv`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
		})

		Convey("返回错误时回滚", func() {
			boom := errors.New("boom")
			err := pool.WithTx(ctx, func(tx *Tx) error {
				if _, err := tx.Execute(ctx, "insert into `kv` values (?, ?)", []any{"a", 1}); err != nil {
					return err
				}
				rows, err := tx.Select(ctx, "select * from `kv`", nil, 0)
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				return boom
			})
			So(err, ShouldEqual, boom)

			rows, err := pool.Select(ctx, "select * from `kv`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("panic 时回滚并继续 panic", func() {
			So(func() {
				_ = pool.WithTx(ctx, func(tx *Tx) error {
					_, _ = tx.Execute(ctx, "insert into `kv` values (?, ?)", []any{"a", 1})
					panic("oops")
				})
			}, ShouldPanicWith, "oops")

			rows, err := pool.Select(ctx, "select * from `kv`", nil, 0)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})
	})
}

func TestPoolClose(t *testing.T) {
	Convey("测试 Pool.Close", t, func() {
		pool := newTestPool()
		So(pool.Close(), ShouldBeNil)
		So(pool.Close(), ShouldBeNil)

		_, err := pool.Select(context.Background(), "select 1", nil, 0)
		So(err, ShouldEqual, ErrPoolClosed)
		_, err = pool.Execute(context.Background(), "select 1", nil)
		So(err, ShouldEqual, ErrPoolClosed)
	})
}

func TestPoolMetrics(t *testing.T) {
	Convey("测试 Pool 指标", t, func() {
		ctx := context.Background()
		registry := prometheus.NewRegistry()

		dbSeq++
		pool, err := NewPoolWithOptions(ctx, &Options{
			Driver:        "sqlite3",
			DSN:           fmt.Sprintf("file:rdb_metrics_%d?mode=memory&cache=shared", dbSeq),
			MaxConns:      1,
			MaxIdle:       1,
			Name:          "testdb",
			EnableMetrics: true,
			EnableTracing: true,
		}, WithLogger(log.NewNop()), WithRegisterer(registry))
		So(err, ShouldBeNil)
		defer pool.Close()

		_, err = pool.Select(ctx, "select 1 as one", nil, 0)
		So(err, ShouldBeNil)
		_, err = pool.Select(ctx, "select * from `missing`", nil, 0)
		So(err, ShouldNotBeNil)

		So(testutil.ToFloat64(pool.metrics.statementCounter.WithLabelValues("select", "success")), ShouldEqual, 1)
		So(testutil.ToFloat64(pool.metrics.statementCounter.WithLabelValues("select", "error")), ShouldEqual, 1)

		Convey("同名指标重复注册时复用", func() {
			again := newPoolMetrics("testdb", registry)
			So(again.statementCounter, ShouldEqual, pool.metrics.statementCounter)

			n, err := testutil.GatherAndCount(registry, "testdb_statements_total")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
			So(strings.HasPrefix(pool.name, "testdb"), ShouldBeTrue)
		})
	})
}
