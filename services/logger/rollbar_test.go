package logsvc

import (
	"bytes"
	"log"
	"testing"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/user"
)

func newTestLogger(buf *bytes.Buffer) *RollbarLogger {
	logger := NewRollbarLogger(log.New(buf, "", 0), core.NewTestConfig())
	logger.Enable(false)
	return logger
}

func TestRollbarLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.SetLevel(gommonlog.WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Empty(t, buf.String())

	logger.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestRollbarLogger_Args(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	caller := user.Identity{ID: "42", Username: "jane", Email: "jane@example.com"}
	logger.Error("booking failed", errors.New("boom"), caller)

	out := buf.String()
	assert.Contains(t, out, "booking failed")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "jane@example.com")
}

func TestRollbarLogger_prepare(t *testing.T) {
	logger := newTestLogger(new(bytes.Buffer))

	err := errors.New("boom")
	extra := map[string]interface{}{"session": "s1"}
	args := logger.prepare("msg", []interface{}{err, user.Identity{ID: "1"}, extra, user.Identity{ID: "2"}})
	assert.Equal(t, []interface{}{"msg", err, extra}, args)
}
