package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// HertzAdapter routes hertz's hlog output through slog.
type HertzAdapter struct {
	logger *slog.Logger
}

var _ hlog.FullLogger = (*HertzAdapter)(nil)

// NewHertzAdapter wraps logger.
func NewHertzAdapter(logger *slog.Logger) *HertzAdapter {
	return &HertzAdapter{logger: logger.With("component", "hertz")}
}

func (h *HertzAdapter) Trace(v ...any)  { h.logger.Debug(sprint(v...)) }
func (h *HertzAdapter) Debug(v ...any)  { h.logger.Debug(sprint(v...)) }
func (h *HertzAdapter) Info(v ...any)   { h.logger.Info(sprint(v...)) }
func (h *HertzAdapter) Notice(v ...any) { h.logger.Info(sprint(v...)) }
func (h *HertzAdapter) Warn(v ...any)   { h.logger.Warn(sprint(v...)) }
func (h *HertzAdapter) Error(v ...any)  { h.logger.Error(sprint(v...)) }
func (h *HertzAdapter) Fatal(v ...any)  { h.logger.Error(sprint(v...)) }

func (h *HertzAdapter) Tracef(format string, v ...any)  { h.logger.Debug(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Debugf(format string, v ...any)  { h.logger.Debug(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Infof(format string, v ...any)   { h.logger.Info(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Noticef(format string, v ...any) { h.logger.Info(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Warnf(format string, v ...any)   { h.logger.Warn(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Errorf(format string, v ...any)  { h.logger.Error(fmt.Sprintf(format, v...)) }
func (h *HertzAdapter) Fatalf(format string, v ...any)  { h.logger.Error(fmt.Sprintf(format, v...)) }

func (h *HertzAdapter) CtxTracef(ctx context.Context, format string, v ...any) {
	h.logger.DebugContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxDebugf(ctx context.Context, format string, v ...any) {
	h.logger.DebugContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxInfof(ctx context.Context, format string, v ...any) {
	h.logger.InfoContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxNoticef(ctx context.Context, format string, v ...any) {
	h.logger.InfoContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxWarnf(ctx context.Context, format string, v ...any) {
	h.logger.WarnContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxErrorf(ctx context.Context, format string, v ...any) {
	h.logger.ErrorContext(ctx, fmt.Sprintf(format, v...))
}

func (h *HertzAdapter) CtxFatalf(ctx context.Context, format string, v ...any) {
	h.logger.ErrorContext(ctx, fmt.Sprintf(format, v...))
}

// SetLevel is a no-op; the slog handler owns the level.
func (h *HertzAdapter) SetLevel(hlog.Level) {}

// SetOutput is a no-op; the slog handler owns the writer.
func (h *HertzAdapter) SetOutput(io.Writer) {}

func sprint(v ...any) string {
	if len(v) == 1 {
		if s, ok := v[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v...)
}
