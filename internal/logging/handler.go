// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// traceHandler adds the trace and span ids of the record's context at the
// top level of every record, outside any group opened with WithGroup.
type traceHandler struct {
	// root has no groups open; service and version are already bound.
	root slog.Handler
	// handler is root with steps applied.
	handler slog.Handler
	steps   []handlerStep
}

// handlerStep is one WithGroup (group set) or WithAttrs call.
type handlerStep struct {
	group string
	attrs []slog.Attr
}

func newTraceHandler(root slog.Handler) *traceHandler {
	return &traceHandler{root: root, handler: root}
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() && !spanCtx.HasSpanID() {
		//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
		return h.handler.Handle(ctx, r)
	}

	var ids []slog.Attr
	if spanCtx.HasTraceID() {
		ids = append(ids, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		ids = append(ids, slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return replay(h.root.WithAttrs(ids), h.steps).Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(handlerStep{attrs: attrs})
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(handlerStep{group: name})
}

func (h *traceHandler) with(step handlerStep) *traceHandler {
	steps := make([]handlerStep, len(h.steps), len(h.steps)+1)
	copy(steps, h.steps)
	steps = append(steps, step)
	return &traceHandler{
		root:    h.root,
		handler: replay(h.handler, []handlerStep{step}),
		steps:   steps,
	}
}

func replay(handler slog.Handler, steps []handlerStep) slog.Handler {
	for _, step := range steps {
		if step.group != "" {
			handler = handler.WithGroup(step.group)
		} else {
			handler = handler.WithAttrs(step.attrs)
		}
	}
	return handler
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Matching is case-insensitive; an empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, oops.Code("LOG_LEVEL_INVALID").With("level", s).Errorf("unknown log level %q", s)
	}
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr.
func Setup(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if format == "text" {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(newTraceHandler(base.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})))
}

// SetDefault builds a logger with Setup and installs it as the slog default.
func SetDefault(service, version, format string, level slog.Level, w io.Writer) *slog.Logger {
	logger := Setup(service, version, format, level, w)
	slog.SetDefault(logger)
	return logger
}
