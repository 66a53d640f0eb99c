// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package api wires the introspection HTTP endpoints onto a mux.
package api

import (
	"net/http"

	"github.com/fiot-project/fiot-esp/api/handlers"
	"github.com/fiot-project/fiot-esp/internal/session"
)

// NewRouter registers the introspection endpoints against store and
// returns the resulting handler.
func NewRouter(store *session.Store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HealthHandler)
	mux.HandleFunc("GET /api/v1/sessions", handlers.SessionsHandler(store))
	mux.HandleFunc("GET /api/v1/sessions/{spi}", handlers.SessionHandler(store))
	return mux
}
