// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fiot-project/fiot-esp/internal/session"
)

// SessionsHandler lists every tracked association. Exposed as GET
// /api/v1/sessions.
func SessionsHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		slog.Debug("listing associations")

		recs, err := store.List()
		if err != nil {
			slog.Error("error listing associations", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recs); err != nil {
			slog.Error("error encoding associations response", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
}

// SessionHandler returns the bookkeeping record for a single SPI.
// Exposed as GET /api/v1/sessions/{spi}.
func SessionHandler(store *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		spi, err := strconv.ParseUint(r.PathValue("spi"), 10, 32)
		if err != nil {
			http.Error(w, "Invalid spi", http.StatusBadRequest)
			return
		}

		rec, err := store.Get(uint32(spi))
		if err != nil {
			slog.Debug("no such association", "spi", spi, "err", err)
			http.Error(w, "No such association", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rec); err != nil {
			slog.Error("error encoding association response", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
