package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// CompactHandler formats logs in a compact, readable format for console output
// Format: [LEVEL] HH:MM:SS message | key=value key=value
type CompactHandler struct {
	opts   slog.HandlerOptions
	mu     *sync.Mutex
	out    io.Writer
	attrs  []slog.Attr // accumulated attributes from WithAttrs
	prefix string      // dotted group path from WithGroup
}

// NewCompactHandler creates a new compact console handler
func NewCompactHandler(w io.Writer, opts *slog.HandlerOptions) *CompactHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &CompactHandler{
		opts: *opts,
		mu:   &sync.Mutex{},
		out:  w,
	}
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	switch {
	case r.Level < slog.LevelDebug:
		buf = append(buf, "[TRACE] "...)
	case r.Level < slog.LevelInfo:
		buf = append(buf, "[DEBUG] "...)
	case r.Level < slog.LevelWarn:
		buf = append(buf, "[INFO]  "...)
	case r.Level < slog.LevelError:
		buf = append(buf, "[WARN]  "...)
	default:
		buf = append(buf, "[ERROR] "...)
	}

	if !r.Time.IsZero() {
		buf = r.Time.AppendFormat(buf, "15:04:05")
		buf = append(buf, ' ')
	}
	buf = append(buf, r.Message...)

	sep := " |"
	write := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		buf = append(buf, sep...)
		buf = append(buf, ' ')
		sep = ""
		buf = h.appendAttr(buf, a)
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		write(a)
		return true
	})

	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *CompactHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	switch a.Key {
	case string(checkIDKey):
		// Check IDs are uuids, the first 8 chars are enough to tell runs apart
		s := a.Value.String()
		if len(s) > 8 {
			s = s[:8]
		}
		buf = append(buf, "check="...)
		return append(buf, s...)
	case "error":
		buf = append(buf, "error="...)
		return strconv.AppendQuote(buf, a.Value.String())
	}

	buf = append(buf, a.Key...)
	buf = append(buf, '=')

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindGroup:
		return append(buf, fmt.Sprintf("%v", v.Group())...)
	default:
		return append(buf, fmt.Sprintf("%v", v.Any())...)
	}
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '=' {
			return true
		}
	}
	return false
}

func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		merged = append(merged, a)
	}
	return &CompactHandler{
		opts:   h.opts,
		mu:     h.mu,
		out:    h.out,
		attrs:  merged,
		prefix: h.prefix,
	}
}

func (h *CompactHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CompactHandler{
		opts:   h.opts,
		mu:     h.mu,
		out:    h.out,
		attrs:  h.attrs,
		prefix: h.prefix + name + ".",
	}
}
