// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger      *slog.Logger
	Observer    HTTPObserver
	CORSOrigins []string
}

// NewRouter builds the API handler.
func NewRouter(creds Credentials, opts RouterOptions) (http.Handler, error) {
	if creds == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("credentials service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cors, err := CORS(CORSOptions{AllowedOrigins: opts.CORSOrigins})
	if err != nil {
		return nil, oops.Code("HTTPAPI_INVALID").With("cors_origins", opts.CORSOrigins).Wrap(err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Tracing)
	r.Use(RequestLogger(logger))
	r.Use(Recovery)
	if opts.Observer != nil {
		r.Use(Metrics(opts.Observer))
	}
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, http.StatusMethodNotAllowed, ErrorBody{Code: CodeMethodNotAllowed, Message: "method not allowed"})
	})

	h := NewAuthHandler(creds)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(RequireBearer)
			r.Post("/logout", h.Logout)
			r.Get("/session", h.Session)
		})
	})

	return r, nil
}
