package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rl1809/stockgrid/internal/adapter/remote"
	"github.com/rl1809/stockgrid/internal/adapter/remote/remotetest"
	"github.com/rl1809/stockgrid/internal/adapter/storage"
	"github.com/rl1809/stockgrid/internal/core/domain"
	"github.com/rl1809/stockgrid/internal/core/fallback"
	"github.com/rl1809/stockgrid/internal/core/service"
	"github.com/rl1809/stockgrid/internal/port"
)

type testEnv struct {
	remote  *remotetest.Server
	state   *fallback.State
	handler *HTTPHandler
	mux     *http.ServeMux
}

func setupTestEnv(t *testing.T, rows ...map[string]any) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := remotetest.NewServer("inventory", rows...)
	state := fallback.New()
	client := remote.NewClient(srv.URL, state,
		remote.WithMinInterval(0),
		remote.WithBackoff(time.Millisecond),
		remote.WithLogger(logger),
	)
	inventory := service.NewInventoryService(remote.NewSheetStore(client), storage.NewMemoryAdapter(), state,
		service.WithLogger(logger),
	)
	poller := service.NewPoller(inventory, 20*time.Millisecond, logger)
	inventory.SetNotifier(poller)

	if err := inventory.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	h := NewHTTPHandler(inventory, poller, logger)
	h.now = func() time.Time { return time.Date(2024, 5, 17, 14, 3, 9, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)

	t.Cleanup(func() {
		poller.Close()
		srv.Close()
	})
	return &testEnv{remote: srv, state: state, handler: h, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeRows(t *testing.T, rec *httptest.ResponseRecorder) []domain.Row {
	t.Helper()
	var rows []domain.Row
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	return rows
}

func seedRow(id, ref string, qty int, aisle string, col, shelf int) map[string]any {
	return map[string]any{
		"id":         id,
		"reference":  ref,
		"quantity":   qty,
		"aisle":      aisle,
		"column":     col,
		"shelf":      shelf,
		"location":   domain.LocationLabel(aisle, col, shelf),
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-01T00:00:00Z",
	}
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestItemsCRUD(t *testing.T) {
	env := setupTestEnv(t, seedRow("1", "REF001", 5, "A", 1, 1))

	rec := env.do(t, http.MethodPost, "/api/items", domain.Draft{
		Reference: "REF002", Quantity: 3, Aisle: "b", Column: 2, Shelf: 4,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Row
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" || created.Location != "B-2-4" {
		t.Errorf("unexpected created row %+v", created)
	}

	rows := decodeRows(t, env.do(t, http.MethodGet, "/api/items", nil))
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	rows = decodeRows(t, env.do(t, http.MethodGet, "/api/items?aisle=b", nil))
	if len(rows) != 1 || rows[0].Reference != "REF002" {
		t.Errorf("unexpected aisle filter result %+v", rows)
	}

	qty := 9
	rec = env.do(t, http.MethodPut, "/api/items/"+created.ID, domain.Patch{Quantity: &qty})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/items/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rows = decodeRows(t, env.do(t, http.MethodGet, "/api/items", nil))
	if len(rows) != 1 || rows[0].Quantity != 9 {
		t.Errorf("unexpected rows after update and delete %+v", rows)
	}
}

func TestItems_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"delete unknown", http.MethodDelete, "/api/items/missing", nil, http.StatusNotFound},
		{"update unknown", http.MethodPut, "/api/items/missing", domain.Patch{}, http.StatusNotFound},
		{"negative quantity", http.MethodPost, "/api/items", domain.Draft{Reference: "X", Quantity: -1, Aisle: "A", Column: 1, Shelf: 1}, http.StatusBadRequest},
		{"slot out of range", http.MethodPost, "/api/items", domain.Draft{Reference: "X", Quantity: 1, Aisle: "Z", Column: 1, Shelf: 1}, http.StatusBadRequest},
		{"missing search term", http.MethodGet, "/api/search", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestMutate(t *testing.T) {
	env := setupTestEnv(t, seedRow("1", "REF001", 10, "A", 1, 1))

	rec := env.do(t, http.MethodPost, "/api/mutations", MutationRequest{
		Op: "add", Aisle: "A", Column: 1, Level: 1, Reference: "ref001", Quantity: 25,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var slot SlotResponse
	json.NewDecoder(rec.Body).Decode(&slot)
	if len(slot.Items) != 1 || slot.Items[0].Quantity != 35 {
		t.Errorf("expected merged quantity 35, got %+v", slot.Items)
	}

	rec = env.do(t, http.MethodPost, "/api/mutations", MutationRequest{
		Op: "withdraw", Aisle: "A", Column: 1, Level: 1, Reference: "REF001", Quantity: 100,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/mutations", MutationRequest{Op: "juggle", Aisle: "A", Column: 1, Level: 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/mutations", MutationRequest{
		Op: "remove", Aisle: "A", Column: 1, Level: 1, Reference: "REF001",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rows := env.remote.Rows(); len(rows) != 0 {
		t.Errorf("expected remote rows to be empty, got %v", rows)
	}
}

func TestSearch(t *testing.T) {
	env := setupTestEnv(t,
		seedRow("1", "BOLT-10", 50, "C", 3, 2),
		seedRow("2", "BOLT-12", 2, "A", 1, 1),
	)

	rec := env.do(t, http.MethodGet, "/api/search?q=bolt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res struct {
		TotalUnits int `json:"total_units"`
		Locations  []struct {
			ItemID string `json:"item_id"`
		} `json:"locations"`
	}
	json.NewDecoder(rec.Body).Decode(&res)
	if res.TotalUnits != 52 || len(res.Locations) != 2 {
		t.Fatalf("unexpected search result %+v", res)
	}
	if res.Locations[0].ItemID != "2" {
		t.Errorf("expected the low-stock front-aisle box first, got %s", res.Locations[0].ItemID)
	}
}

func TestExport(t *testing.T) {
	env := setupTestEnv(t, seedRow("b", "REF-B", 1, "A", 1, 1), seedRow("a", "REF-A", 1, "A", 1, 2))

	rec := env.do(t, http.MethodGet, "/api/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := `attachment; filename="inventory-20240517-140309.json"`
	if got := rec.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
	rows := decodeRows(t, rec)
	if len(rows) != 2 || rows[0].ID != "a" {
		t.Errorf("expected rows sorted by id, got %+v", rows)
	}
}

func TestStatus_ReportsFallback(t *testing.T) {
	env := setupTestEnv(t, seedRow("1", "REF001", 5, "A", 1, 1))

	var st StatusResponse
	json.NewDecoder(env.do(t, http.MethodGet, "/api/status", nil).Body).Decode(&st)
	if st.Fallback || st.Resource != "inventory" {
		t.Errorf("unexpected status %+v", st)
	}

	env.remote.ExhaustQuota()

	// the write is rerouted to the local cache and still succeeds
	rec := env.do(t, http.MethodPost, "/api/items", domain.Draft{Reference: "REF009", Quantity: 1, Aisle: "A", Column: 2, Shelf: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 in fallback, got %d: %s", rec.Code, rec.Body.String())
	}

	json.NewDecoder(env.do(t, http.MethodGet, "/api/status", nil).Body).Decode(&st)
	if !st.Fallback || st.Reason != "quota exceeded" {
		t.Errorf("expected fallback status, got %+v", st)
	}

	rows := decodeRows(t, env.do(t, http.MethodGet, "/api/items", nil))
	if len(rows) != 2 {
		t.Errorf("expected local cache to hold 2 rows, got %d", len(rows))
	}
}

func TestStream(t *testing.T) {
	env := setupTestEnv(t, seedRow("1", "REF001", 5, "A", 1, 1))
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readEvents(resp.Body)
	first := <-events
	if len(first) != 1 {
		t.Fatalf("expected baseline with 1 row, got %d", len(first))
	}

	env.remote.SetRows(seedRow("1", "REF001", 5, "A", 1, 1), seedRow("2", "REF002", 1, "B", 1, 1))

	select {
	case next := <-events:
		if len(next) != 2 {
			t.Errorf("expected 2 rows after change, got %d", len(next))
		}
	case <-ctx.Done():
		t.Fatal("no event after remote change")
	}
}

func readEvents(r io.Reader) <-chan []domain.Row {
	out := make(chan []domain.Row, 4)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var rows []domain.Row
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rows); err == nil {
				out <- rows
			}
		}
	}()
	return out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrNegativeQuantity, http.StatusBadRequest},
		{domain.ErrSlotOutOfRange, http.StatusBadRequest},
		{domain.ErrInvalidMutation, http.StatusBadRequest},
		{domain.ErrInsufficientStock, http.StatusConflict},
		{fmt.Errorf("local cache: %w", port.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if got != "inventory-20250102-030405.json" {
		t.Errorf("unexpected filename %s", got)
	}
}
