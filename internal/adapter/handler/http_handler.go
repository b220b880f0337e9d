package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rl1809/stockgrid/internal/core/domain"
	"github.com/rl1809/stockgrid/internal/core/service"
	"github.com/rl1809/stockgrid/internal/port"
)

type HTTPHandler struct {
	inventory *service.InventoryService
	poller    *service.Poller
	logger    *slog.Logger
	now       func() time.Time
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// MutationRequest is the wire form of a slot mutation. Op is one of add,
// withdraw, set or remove.
type MutationRequest struct {
	Op          string `json:"op"`
	Aisle       string `json:"aisle"`
	Column      int    `json:"column"`
	Level       int    `json:"level"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
}

type SlotResponse struct {
	domain.SlotAddress
	Items []domain.Row `json:"items"`
}

func NewHTTPHandler(inventory *service.InventoryService, poller *service.Poller, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{inventory: inventory, poller: poller, logger: logger, now: time.Now}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/items", h.ListItems)
	mux.HandleFunc("POST /api/items", h.CreateItem)
	mux.HandleFunc("PUT /api/items/{id}", h.UpdateItem)
	mux.HandleFunc("DELETE /api/items/{id}", h.DeleteItem)
	mux.HandleFunc("POST /api/mutations", h.Mutate)
	mux.HandleFunc("GET /api/search", h.Search)
	mux.HandleFunc("GET /api/export", h.Export)
	mux.HandleFunc("GET /api/status", h.Status)
	mux.HandleFunc("GET /api/stream", h.Stream)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	var (
		items []domain.Item
		err   error
	)
	if aisle := r.URL.Query().Get("aisle"); aisle != "" {
		items, err = h.inventory.SelectByAisle(r.Context(), aisle)
	} else {
		items, err = h.inventory.SelectAll(r.Context())
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRows(items))
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var d domain.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	it, err := h.inventory.Insert(r.Context(), d)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it.ToRow())
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var p domain.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	it, err := h.inventory.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it.ToRow())
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if _, err := h.inventory.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	m, err := req.Mutation()
	if err != nil {
		h.writeError(w, err)
		return
	}

	g, err := h.inventory.Apply(r.Context(), m)
	if err != nil {
		h.writeError(w, err)
		return
	}

	addr := m.Target()
	addr.Aisle = strings.ToUpper(strings.TrimSpace(addr.Aisle))
	slot, _ := g.Slot(addr)
	writeJSON(w, http.StatusOK, SlotResponse{SlotAddress: slot.SlotAddress, Items: toRows(slot.Items)})
}

func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if strings.TrimSpace(term) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing search term"})
		return
	}

	res, err := h.inventory.Search(r.Context(), term)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Export serves the full item set as a timestamped JSON download.
func (h *HTTPHandler) Export(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.SelectAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename(h.now())))
	writeJSON(w, http.StatusOK, toRows(domain.SortedByID(items)))
}

func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Fallback: h.inventory.IsFallbackMode(),
		Reason:   h.inventory.FallbackReason(),
		Resource: h.inventory.Resource(),
	})
}

// Stream pushes one "items" event per detected change, starting with the
// current set. Slow clients only ever see the latest set.
func (h *HTTPHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	updates := make(chan []domain.Item, 1)
	unsubscribe, err := h.poller.Subscribe(r.Context(), func(items []domain.Item) {
		select {
		case <-updates:
		default:
		}
		updates <- items
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case items := <-updates:
			data, err := json.Marshal(toRows(items))
			if err != nil {
				h.logger.Error("stream: encode failed", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: items\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (req MutationRequest) Mutation() (domain.Mutation, error) {
	slot := domain.SlotAddress{Aisle: req.Aisle, Column: req.Column, Level: req.Level}
	switch strings.ToLower(req.Op) {
	case "add":
		return domain.AddStock{Slot: slot, Reference: req.Reference, Description: req.Description, Quantity: req.Quantity}, nil
	case "withdraw":
		return domain.Withdraw{Slot: slot, Reference: req.Reference, Quantity: req.Quantity}, nil
	case "set":
		return domain.SetQuantity{Slot: slot, Reference: req.Reference, Quantity: req.Quantity}, nil
	case "remove":
		return domain.RemoveReference{Slot: slot, Reference: req.Reference}, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", domain.ErrInvalidMutation, req.Op)
}

// ExportFilename names an export taken at t.
func ExportFilename(t time.Time) string {
	return "inventory-" + t.Format("20060102-150405") + ".json"
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

// StatusFor maps store and domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNegativeQuantity),
		errors.Is(err, domain.ErrSlotOutOfRange),
		errors.Is(err, domain.ErrInvalidMutation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, port.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func toRows(items []domain.Item) []domain.Row {
	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.ToRow())
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
