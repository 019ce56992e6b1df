package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/identity"
	"github.com/luiscore200/cotizador/internal/store"
)

const maxListLimit = 100

// QuotationReader is the read side of the archive.
type QuotationReader interface {
	GetQuotation(ctx context.Context, sessionID string) (*domain.Quotation, error)
	ListQuotationsByClient(ctx context.Context, clientID string, limit int) ([]*domain.Quotation, error)
}

// QuotationHandler serves archived quotations to the client that produced them.
type QuotationHandler struct {
	repo QuotationReader
}

// NewQuotationHandler creates a quotation handler.
func NewQuotationHandler(repo QuotationReader) *QuotationHandler {
	return &QuotationHandler{repo: repo}
}

// RegisterRoutes registers quotation routes.
func (h *QuotationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/quotations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{sessionID}", h.Get)
	})
}

// List returns the caller's archived quotations, newest first.
func (h *QuotationHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "missing client identity")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	quotes, err := h.repo.ListQuotationsByClient(r.Context(), clientID, limit)
	if err != nil {
		slog.Error("Failed to list quotations", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list quotations")
		return
	}
	if quotes == nil {
		quotes = []*domain.Quotation{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"quotations": quotes})
}

// Get returns one archived quotation. Records belonging to another client
// are reported as missing.
func (h *QuotationHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	q, err := h.repo.GetQuotation(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && q.ClientID != clientID) {
		Error(w, http.StatusNotFound, "quotation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load quotation", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load quotation")
		return
	}
	JSON(w, http.StatusOK, q)
}
