package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kundimport/internal/schema"
)

// handleHealth reports readiness: the process is up and the database
// answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDownloadTemplate serves the import template with canonical headers
// and example rows. format=csv (default) or format=xlsx.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	switch format {
	case "csv":
		data, err := schema.TemplateCSV()
		if err != nil {
			s.respondError(w, r, fmt.Errorf("build csv template: %w", err))
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="kundimport-mall.csv"`)
		w.Write(data)

	case "xlsx":
		data, err := schema.TemplateXLSX()
		if err != nil {
			s.respondError(w, r, fmt.Errorf("build xlsx template: %w", err))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="kundimport-mall.xlsx"`)
		w.Write(data)

	default:
		respondBadRequest(w, "unsupported template format, use csv or xlsx")
	}
}

// handleListCustomers returns one page of the organization's customers
// ordered by customer number. limit and offset come from query parameters;
// the store applies its default page size when limit is absent.
func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if _, err := uuid.Parse(orgID); err != nil {
		respondBadRequest(w, "invalid organization id")
		return
	}

	limit := queryInt(r, "limit")
	offset := queryInt(r, "offset")

	customers, err := s.store.ListCustomers(r.Context(), orgID, limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, map[string]any{
		"customers": customers,
		"count":     len(customers),
		"offset":    offset,
	})
}

// queryInt parses an integer query parameter, returning 0 when absent or
// malformed.
func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// handleImportHistory returns the organization's most recent imports.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if _, err := uuid.Parse(orgID); err != nil {
		respondBadRequest(w, "invalid organization id")
		return
	}

	entries, err := s.store.ListHistory(r.Context(), orgID, queryInt(r, "limit"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, map[string]any{"imports": entries})
}
