package logsvc

import (
	"log"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/user"
)

// RollbarLogger reports to Rollbar and echoes every message at or above its level to a std logger.
type RollbarLogger struct {
	std   *log.Logger
	level gommonlog.Lvl
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)

	level := gommonlog.INFO
	if conf.Debug {
		level = gommonlog.DEBUG
	}
	return &RollbarLogger{std: std, level: level}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

func (l *RollbarLogger) SetLevel(level gommonlog.Lvl) {
	l.level = level
}

// expected fmt: msg | error, map[string]interface{}, user.Identity
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set the caller
		if id, ok := arg.(user.Identity); ok {
			if !usrSet { // only set one person
				rollbar.SetPerson(id.ID, id.Username, id.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) print(level gommonlog.Lvl, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	l.std.Println(msg)
	for _, arg := range args {
		if _, ok := arg.(user.Identity); ok {
			continue
		}
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(gommonlog.DEBUG, msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(gommonlog.INFO, msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(gommonlog.WARN, msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(gommonlog.ERROR, msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(gommonlog.ERROR, msg, args)
	l.std.Fatal(msg)
}
