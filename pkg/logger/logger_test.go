package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// decodeLines 解析 JSON 行日志
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func newBufferLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := NewWithOptions(WithLevel(level), WithFormat(JSONFormat), WithOutput(buf))
	require.NoError(t, err)
	return l, buf
}

// TestNew 测试创建 Logger
func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{Format: JSONFormat, File: filepath.Join(dir, "a.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "b.log")}}},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_ = l.Sync()
		})
	}
}

// TestSetLevel 测试动态调整级别对子 Logger 生效
func TestSetLevel(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)
	child := l.Named("room")

	child.Debug("hidden")
	l.SetLevel(DebugLevel)
	child.Debug("visible")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["msg"])
	assert.Equal(t, "room", lines[0]["logger"])
	assert.Equal(t, DebugLevel, child.Level())
}

// TestContextFields 测试从 context 提取字段
func TestContextFields(t *testing.T) {
	l, buf := newBufferLogger(t, DebugLevel)

	ctx := ContextWithTraceID(context.Background(), "t-1")
	ctx = ContextWithRoom(ctx, "math-101")
	ctx = ContextWithClientID(ctx, "alice")
	l.InfoContext(ctx, "joined", Event("room.join"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "t-1", lines[0]["trace_id"])
	assert.Equal(t, "math-101", lines[0]["room"])
	assert.Equal(t, "alice", lines[0]["client_id"])
	assert.Equal(t, "room.join", lines[0]["event"])
}

// TestWithContext 测试子 Logger 携带 context 字段
func TestWithContext(t *testing.T) {
	l, buf := newBufferLogger(t, InfoLevel)
	l.WithContext(ContextWithRoom(context.Background(), "lobby")).Warn("w", zap.Int("n", 1))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "lobby", lines[0]["room"])
	assert.EqualValues(t, 1, lines[0]["n"])
}

type countingHook struct{ n int }

func (h *countingHook) OnWrite(zapcore.Entry, []zapcore.Field) error {
	h.n++
	return nil
}

// TestHook 测试 Hook 调用
func TestHook(t *testing.T) {
	hook := &countingHook{}
	buf := &bytes.Buffer{}
	l, err := NewWithOptions(WithOutput(buf), WithHook(hook), WithLevel(WarnLevel))
	require.NoError(t, err)

	l.Info("skip")
	l.Warn("one")
	l.With(zap.String("k", "v")).Error("two")
	assert.Equal(t, 2, hook.n)
}

// TestParseLevel 测试级别解析
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// TestNop 测试 Nop Logger 不输出
func TestNop(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	assert.NoError(t, l.Sync())
}

// TestMiddleware 测试 gin 访问日志中间件
func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, buf := newBufferLogger(t, InfoLevel)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/healthz", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.EqualValues(t, 200, lines[0]["status"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "/missing", lines[1]["path"])
}
