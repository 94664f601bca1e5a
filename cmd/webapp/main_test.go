package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaiOuYang/WebAppStart/log"
	"github.com/KaiOuYang/WebAppStart/rdb"
)

func writeConfig(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	config := writeConfig(t, dir, "config.yaml", `
addr: ":9000"
log:
  level: error
database:
  driver: sqlite3
  database: test.db
  maxConns: 10
web:
  name: blog
`)
	override := writeConfig(t, dir, "prod.json", `{"database": {"maxConns": 20}}`)
	t.Setenv("WEBAPP_ADDR", ":9100")

	f := &flags{config: config, overrides: []string{override, filepath.Join(dir, "missing.toml")}, envPrefix: "WEBAPP_"}
	conf, options, err := f.load()
	require.NoError(t, err)
	defer conf.Close()

	assert.Equal(t, ":9100", options.Addr)
	assert.Equal(t, 10*time.Second, options.ShutdownTimeout)
	assert.Equal(t, "/metrics", options.MetricsPath)
	assert.Equal(t, "error", options.Log.Level)
	assert.Equal(t, "sqlite3", options.Database.Driver)
	assert.Equal(t, 20, options.Database.MaxConns)
	assert.Equal(t, 5, options.Database.MaxIdle)
	assert.Equal(t, "blog", options.Web.Name)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	config := writeConfig(t, dir, "config.yaml", "addr: \":9000\"\ndatabase:\n  driver: sqlite3\n")
	override := writeConfig(t, dir, "local.toml", "addr = \":9200\"\n")

	out, err := execute("config", "-c", config, "-o", override)
	require.NoError(t, err)
	assert.Contains(t, out, "9200")
	assert.NotContains(t, out, "9000")
	assert.Contains(t, out, "driver: sqlite3")
}

func TestMigrateCommand(t *testing.T) {
	t.Run("只打印建表语句", func(t *testing.T) {
		out, err := execute("migrate", "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, out, "create table if not exists `users`")
		assert.Contains(t, out, "create table if not exists `blogs`")
		assert.Contains(t, out, "create table if not exists `comments`")
	})

	t.Run("建表", func(t *testing.T) {
		dir := t.TempDir()
		dbPath := filepath.Join(dir, "blog.db")
		config := writeConfig(t, dir, "config.yaml", `
log:
  level: error
database:
  driver: sqlite3
  database: `+dbPath+`
`)

		_, err := execute("migrate", "-c", config)
		require.NoError(t, err)

		pool, err := rdb.NewPoolWithOptions(context.Background(), &rdb.Options{Driver: "sqlite3", Database: dbPath}, rdb.WithLogger(log.NewNop()))
		require.NoError(t, err)
		defer pool.Close()

		rows, err := pool.Select(context.Background(), "select name from sqlite_master where type='table' order by name", nil, 0)
		require.NoError(t, err)
		var tables []string
		for _, row := range rows {
			tables = append(tables, row["name"].(string))
		}
		assert.Equal(t, []string{"blogs", "comments", "users"}, tables)
	})

	t.Run("默认配置文件不存在", func(t *testing.T) {
		_, err := execute("migrate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
