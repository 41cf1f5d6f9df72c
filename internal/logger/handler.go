package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zerologHandler implements slog.Handler by forwarding every record to a
// zerolog.Logger. It is not part of the retrieved teacher source - only
// its call sites (New's newZerologHandler/toZerologLevel) survived
// retrieval - so it is written fresh here, following zerolog's own
// level scale and slog.Handler's WithAttrs/WithGroup contract.
type zerologHandler struct {
	logger *zerolog.Logger
	attrs  []slog.Attr
	groups []string
}

func newZerologHandler(l *zerolog.Logger) *zerologHandler {
	return &zerologHandler{logger: l}
}

func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return toZerologLevel(level) >= h.logger.GetLevel()
}

func (h *zerologHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.logger.WithLevel(toZerologLevel(r.Level))
	for _, a := range h.attrs {
		ev = addAttr(ev, h.prefixed(a.Key), a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = addAttr(ev, h.prefixed(a.Key), a.Value)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *zerologHandler) prefixed(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	return prefix + key
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &zerologHandler{logger: h.logger, groups: h.groups}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	next := &zerologHandler{logger: h.logger, attrs: h.attrs}
	next.groups = append(append([]string{}, h.groups...), name)
	return next
}

func addAttr(ev *zerolog.Event, key string, v slog.Value) *zerolog.Event {
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	default:
		return ev.Interface(key, v.Any())
	}
}
