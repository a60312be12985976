package logging

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"time"
)

type Attr = slog.Attr

// Typed constructors re-exported so call sites only import this package.
var (
	Any      = slog.Any
	Bool     = slog.Bool
	Duration = slog.Duration
	Float64  = slog.Float64
	Int      = slog.Int
	Int64    = slog.Int64
	String   = slog.String
)

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with a component. A nil logger discards.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// fieldDefault is a key every structured warning or error carries.
type fieldDefault struct {
	key, value string
}

var (
	errorDefaults = []fieldDefault{
		{FieldErrorHint, "check logs for details"},
	}
	warnDefaults = append(slices.Clone(errorDefaults),
		fieldDefault{FieldImpact, "operation completed with warnings"})
)

// WarnWithContext logs a warning that always states its cause, impact, and
// next step. Missing event_type, error_hint, or impact keys are filled in.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emit(logger, slog.LevelWarn, msg, eventType, warnDefaults, attrs)
}

// ErrorWithContext is WarnWithContext at error level, without the impact key.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emit(logger, slog.LevelError, msg, eventType, errorDefaults, attrs)
}

func emit(logger *slog.Logger, level slog.Level, msg, eventType string, defaults []fieldDefault, attrs []Attr) {
	if logger == nil {
		return
	}
	ctx := context.Background()
	handler := logger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}
	if !hasKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	for _, d := range defaults {
		if !hasKey(attrs, d.key) {
			attrs = append(attrs, String(d.key, d.value))
		}
	}
	// Skip runtime.Callers, emit, and the exported wrapper so source points
	// at the caller.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.AddAttrs(attrs...)
	_ = handler.Handle(ctx, record)
}

func hasKey(attrs []Attr, key string) bool {
	return slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == key })
}
