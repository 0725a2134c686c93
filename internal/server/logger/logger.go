package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ZhenchangMin/AI-study-copilot/internal/constants"
	contextutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Fallback = New(context.Background(), "fallback", INFO, make(chan string, 1))
)

type Logger struct {
	name   string
	level  LogLevel
	exitCh chan string
	zl     *zap.Logger
}

func New(ctx context.Context, name string, level LogLevel, exitCh chan string) *Logger {
	return NewWithWriter(name, level, exitCh, os.Stdout)
}

// NewWithWriter builds a logger writing console-encoded lines to w
func NewWithWriter(name string, level LogLevel, exitCh chan string, w io.Writer) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	// level filtering happens in Logger so TRACE can sit below zap's debug
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)

	return &Logger{
		name:   name,
		level:  level,
		exitCh: exitCh,
		zl:     zap.New(core).Named(name),
	}
}

func (l *Logger) out(ctx context.Context, s string, level LogLevel) {
	var fields []zap.Field
	if reqId := contextutils.GetRequestID(ctx); reqId != "" {
		fields = append(fields, zap.String("request_id", reqId))
	}

	if level == TRACE {
		fields = append(fields, zap.Bool("trace", true))
	}
	if ce := l.zl.Check(level.zapLevel(), s); ce != nil {
		ce.Write(fields...)
	}
}

// Clone returns a child logger named after a component, and ctx carrying it
func (l *Logger) Clone(ctx context.Context, name string) (*Logger, context.Context) {
	lgr := &Logger{
		name:   l.name + "." + name,
		level:  l.level,
		exitCh: l.exitCh,
		zl:     l.zl.Named(name),
	}
	ctx = context.WithValue(ctx, constants.LoggerKey, lgr)
	return lgr, ctx
}

func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.level = level
	return l
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) Trace(ctx context.Context, s string) {
	if l.level > TRACE {
		return
	}
	l.out(ctx, s, TRACE)
}

func (l *Logger) Tracef(ctx context.Context, s string, args ...any) {
	l.Trace(ctx, fmt.Sprintf(s, args...))
}

func (l *Logger) Debug(ctx context.Context, s string) {
	if l.level > DEBUG {
		return
	}
	l.out(ctx, s, DEBUG)
}

func (l *Logger) Debugf(ctx context.Context, s string, args ...any) {
	l.Debug(ctx, fmt.Sprintf(s, args...))
}

func (l *Logger) Info(ctx context.Context, s string) {
	if l.level > INFO {
		return
	}
	l.out(ctx, s, INFO)
}

func (l *Logger) Infof(ctx context.Context, s string, args ...any) {
	l.Info(ctx, fmt.Sprintf(s, args...))
}

func (l *Logger) Warn(ctx context.Context, s string) {
	if l.level > WARN {
		return
	}
	l.out(ctx, s, WARN)
}

func (l *Logger) Warnf(ctx context.Context, s string, args ...any) {
	l.Warn(ctx, fmt.Sprintf(s, args...))
}

func (l *Logger) Error(ctx context.Context, s string) {
	if l.level > ERROR {
		return
	}
	l.out(ctx, s, ERROR)
}

func (l *Logger) Errorf(ctx context.Context, s string, args ...any) {
	l.Error(ctx, fmt.Sprintf(s, args...))
}

// Fatal logs s and hands it to the exit channel. It never blocks: if a fatal
// message is already pending the new one is only logged.
func (l *Logger) Fatal(ctx context.Context, s string) {
	l.out(ctx, s, FATAL)
	select {
	case l.exitCh <- s:
	default:
	}
}

func (l *Logger) Fatalf(ctx context.Context, s string, args ...any) {
	l.Fatal(ctx, fmt.Sprintf(s, args...))
}
