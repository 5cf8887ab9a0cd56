// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"
)

// ResetNotifier delivers a password reset token to its owner. Delivery
// (email, SMS, ...) lives outside this package.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// LogNotifier records reset requests in the log without delivering them.
// The token itself is never logged.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyPasswordReset logs the request.
func (n *LogNotifier) NotifyPasswordReset(ctx context.Context, user *User, _ string, expiresAt time.Time) error {
	n.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID.String()),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}

// EventRecorder counts credential operations by outcome.
type EventRecorder interface {
	RecordAuthEvent(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

// Compile-time interface check.
var _ ResetNotifier = (*LogNotifier)(nil)
