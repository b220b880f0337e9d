// Package remotetest provides an in-process row store speaking the same
// protocol as the remote service, for tests across packages.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

type condition struct {
	ID string `json:"id"`
}

// Server serves one resource; every other resource name answers 404.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	resource string
	rows     []map[string]any
	quota    bool
	calls    map[string]int
}

func NewServer(resource string, rows ...map[string]any) *Server {
	s := &Server{
		resource: resource,
		rows:     rows,
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// ExhaustQuota makes every later request answer 429.
func (s *Server) ExhaustQuota() {
	s.mu.Lock()
	s.quota = true
	s.mu.Unlock()
}

// Rows returns a copy of the stored rows.
func (s *Server) Rows() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.rows))
	copy(out, s.rows)
	return out
}

// SetRows replaces the stored rows, as an out-of-band edit would.
func (s *Server) SetRows(rows ...map[string]any) {
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
}

// Calls counts requests per HTTP method.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[r.Method]++
	if s.quota {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
		return
	}
	if strings.Trim(r.URL.Path, "/") != s.resource {
		http.Error(w, `{"error":"sheet not found"}`, http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		rows := s.rows
		if rows == nil {
			rows = []map[string]any{}
		}
		json.NewEncoder(w).Encode(rows)

	case http.MethodPost:
		var rows []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.rows = append(s.rows, rows...)
		w.Write([]byte(`{"created":1}`))

	case http.MethodPut:
		var body struct {
			Condition condition      `json:"condition"`
			Set       map[string]any `json:"set"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i, row := range s.rows {
			if row["id"] == body.Condition.ID {
				s.rows[i] = body.Set
			}
		}
		w.Write([]byte(`{"updated":1}`))

	case http.MethodDelete:
		var body struct {
			Condition condition `json:"condition"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kept := s.rows[:0]
		for _, row := range s.rows {
			if row["id"] != body.Condition.ID {
				kept = append(kept, row)
			}
		}
		s.rows = kept
		w.Write([]byte(`{"deleted":1}`))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
