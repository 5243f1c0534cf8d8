// Stubservice is a minimal backend for local gateway runs. It answers
// /health and keeps an in-memory collection of records under -prefix.
//
// Usage:
//
//	go run ./cmd/stubservice -port 8001 -prefix /tasks
//	go run ./cmd/stubservice -port 8002 -prefix /users -fail
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/angeloszaimis/healthgate/pkg/logger"
)

type record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type store struct {
	mutex   sync.RWMutex
	records map[string]record
}

func (s *store) list() []record {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *store) create(data json.RawMessage) record {
	r := record{ID: uuid.NewString(), Data: data, CreatedAt: time.Now().UTC()}

	s.mutex.Lock()
	s.records[r.ID] = r
	s.mutex.Unlock()

	return r
}

func (s *store) get(id string) (record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *store) delete(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

func main() {
	port := flag.Int("port", 8001, "port to listen on")
	prefix := flag.String("prefix", "/items", "path prefix of the served collection")
	fail := flag.Bool("fail", false, "answer /health with 503")
	flag.Parse()

	log := logger.New("info", false, "development")
	collection := "/" + strings.Trim(*prefix, "/")
	s := &store{records: make(map[string]record)}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if *fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "FAILING"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}).Methods(http.MethodGet)

	r.HandleFunc(collection, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, s.list())
	}).Methods(http.MethodGet)

	r.HandleFunc(collection, func(w http.ResponseWriter, req *http.Request) {
		var data json.RawMessage
		if err := json.NewDecoder(req.Body).Decode(&data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		rec := s.create(data)
		log.Info("Record created",
			slog.String("id", rec.ID),
			slog.String("request_id", req.Header.Get("X-Request-ID")))
		writeJSON(w, http.StatusCreated, rec)
	}).Methods(http.MethodPost)

	r.HandleFunc(collection+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, ok := s.get(mux.Vars(req)["id"])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}).Methods(http.MethodGet)

	r.HandleFunc(collection+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		if !s.delete(mux.Vars(req)["id"]) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Stub service listening",
		slog.String("address", addr),
		slog.String("prefix", collection),
		slog.Bool("fail", *fail))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Error("Stub service failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
