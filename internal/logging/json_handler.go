package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
)

// jsonTimeLayout is RFC 3339 in UTC with fixed millisecond precision.
const jsonTimeLayout = "2006-01-02T15:04:05.000Z"

// newJSONHandler emits one object per record: ts, level, msg, optional
// source, then attributes.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: rewriteJSONKey,
	})
}

func rewriteJSONKey(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() != slog.KindTime {
			return attr
		}
		return slog.String("ts", attr.Value.Time().UTC().Format(jsonTimeLayout))
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok {
			return slog.String(slog.SourceKey, sourceLabel(src))
		}
	}
	return attr
}

// sourceLabel renders a caller as file:line.
func sourceLabel(src *slog.Source) string {
	if src == nil || src.File == "" {
		return "unknown"
	}
	return filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
}
