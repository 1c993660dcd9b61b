package logsvc

import (
	"go.uber.org/zap"

	"github.com/chuoapp/chuo/core"
)

// ZapLogger is the structured development logger.
type ZapLogger struct {
	sugar   *zap.SugaredLogger
	enabled bool
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(conf *core.Config) (*ZapLogger, error) {
	var (
		zl  *zap.Logger
		err error
	)
	if conf.Debug {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: zl.Sugar(), enabled: true}, nil
}

func (l *ZapLogger) Enable(enabled bool) { l.enabled = enabled }

func (l *ZapLogger) Debug(msg string, args ...interface{}) {
	if l.enabled {
		l.sugar.Debugw(msg, kvArgs(args)...)
	}
}

func (l *ZapLogger) Info(msg string, args ...interface{}) {
	if l.enabled {
		l.sugar.Infow(msg, kvArgs(args)...)
	}
}

func (l *ZapLogger) Warn(msg string, args ...interface{}) {
	if l.enabled {
		l.sugar.Warnw(msg, kvArgs(args)...)
	}
}

func (l *ZapLogger) Error(msg string, args ...interface{}) {
	if l.enabled {
		l.sugar.Errorw(msg, kvArgs(args)...)
	}
}

func (l *ZapLogger) Fatal(msg string, args ...interface{}) {
	l.sugar.Fatalw(msg, kvArgs(args)...)
}

// kvArgs turns loose args into zap key/value pairs: errors get the "error"
// key, anything else lands under "ctx".
func kvArgs(args []interface{}) []interface{} {
	kvs := make([]interface{}, 0, len(args)*2)
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			kvs = append(kvs, "error", err)
		} else {
			kvs = append(kvs, "ctx", arg)
		}
	}
	return kvs
}

// NopLogger swallows everything; handy in tests.
type NopLogger struct{}

var _ core.Logger = (*NopLogger)(nil)

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (NopLogger) Enable(bool)                       {}
func (NopLogger) Debug(string, ...interface{})      {}
func (NopLogger) Info(string, ...interface{})       {}
func (NopLogger) Warn(string, ...interface{})       {}
func (NopLogger) Error(string, ...interface{})      {}
func (NopLogger) Fatal(msg string, _ ...interface{}) { panic(msg) }
