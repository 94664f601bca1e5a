package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSLogWithOptions(t *testing.T) {
	tests := []struct {
		name    string
		options *Options
		wantErr bool
	}{
		{name: "nil options", options: nil, wantErr: true},
		{name: "default console output", options: &Options{Level: "info"}},
		{name: "json stderr", options: &Options{Level: "debug", Format: "json", Output: OutputOptions{Type: "console", Target: "stderr"}}},
		{name: "invalid level", options: &Options{Level: "invalid"}, wantErr: true},
		{name: "invalid format", options: &Options{Format: "xml"}, wantErr: true},
		{name: "invalid output", options: &Options{Output: OutputOptions{Type: "kafka"}}, wantErr: true},
		{name: "file without path", options: &Options{Output: OutputOptions{Type: "file"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewSLogWithOptions(tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, l)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestSLogLevelAndFields(t *testing.T) {
	t.Run("低于级别的日志被过滤", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewSLogWithWriter(&buf, &Options{Level: "warn"})
		require.NoError(t, err)

		l.Info("hidden")
		l.Warn("shown", "key", "value")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "shown")
		assert.Contains(t, out, "key=value")
	})

	t.Run("json 格式携带自定义字段和分组", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewSLogWithWriter(&buf, &Options{Format: "json", Fields: map[string]any{"app": "awesome"}})
		require.NoError(t, err)

		l.WithGroup("db").Info("query", "rows", 3)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "awesome", record["app"])
		assert.Equal(t, map[string]any{"rows": float64(3)}, record["db"])
	})

	t.Run("自定义时间格式", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := NewSLogWithWriter(&buf, &Options{TimeFormat: "2006"})
		require.NoError(t, err)

		l.Error("boom")
		assert.True(t, strings.HasPrefix(buf.String(), "time=2"))
	})
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l, err := NewSLogWithOptions(&Options{Output: OutputOptions{Type: "file", Path: path}})
	require.NoError(t, err)
	l.Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestDefaultAndNop(t *testing.T) {
	assert.NotNil(t, Default())
	assert.Equal(t, Default(), OrDefault(nil))

	nop := NewNop()
	assert.Equal(t, nop, OrDefault(nop))
	nop.Error("discarded")
}
