// Package consultest runs an in-memory stand-in for the Consul HTTP API,
// covering the status and KV endpoints the game server uses.
package consultest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/consul/api"
)

// Server is a fake Consul agent backed by a map.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	values map[string][]byte

	kvReads    atomic.Int64
	failWrites atomic.Bool
	noLeader   atomic.Bool
}

// NewServer starts a fake agent that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{values: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status/leader", s.handleLeader)
	mux.HandleFunc("/v1/kv/", s.handleKV)
	s.Server = httptest.NewServer(mux)

	t.Cleanup(s.Close)
	return s
}

// Address returns host:port for api.Config.Address.
func (s *Server) Address() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// Put stores a value directly, bypassing the HTTP API.
func (s *Server) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = []byte(value)
}

// PutNil stores a key whose value is null.
func (s *Server) PutNil(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = nil
}

// Value returns the stored value for key.
func (s *Server) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return string(v), ok
}

// KVReads counts GET requests against the KV endpoint.
func (s *Server) KVReads() int64 {
	return s.kvReads.Load()
}

// FailWrites makes PUT and DELETE return HTTP 500.
func (s *Server) FailWrites(fail bool) {
	s.failWrites.Store(fail)
}

// NoLeader makes the leader endpoint report an empty leader.
func (s *Server) NoLeader(none bool) {
	s.noLeader.Store(none)
}

func setMetaHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Consul-Index", "1")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("Content-Type", "application/json")
}

func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	setMetaHeaders(w)
	leader := "127.0.0.1:8300"
	if s.noLeader.Load() {
		leader = ""
	}
	_ = json.NewEncoder(w).Encode(leader)
}

func (s *Server) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
	setMetaHeaders(w)

	switch r.Method {
	case http.MethodGet:
		s.kvReads.Add(1)
		_, recurse := r.URL.Query()["recurse"]
		pairs := s.lookup(key, recurse)
		if len(pairs) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(pairs)

	case http.MethodPut:
		if s.failWrites.Load() {
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.values[key] = body
		s.mu.Unlock()
		_, _ = io.WriteString(w, "true")

	case http.MethodDelete:
		if s.failWrites.Load() {
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		delete(s.values, key)
		s.mu.Unlock()
		_, _ = io.WriteString(w, "true")

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) lookup(key string, recurse bool) []*api.KVPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !recurse {
		value, ok := s.values[key]
		if !ok {
			return nil
		}
		return []*api.KVPair{{Key: key, Value: value}}
	}

	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]*api.KVPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, &api.KVPair{Key: k, Value: s.values[k]})
	}
	return pairs
}
