// Package apitest provides an in-memory fake of the remote KV API for tests.
package apitest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/wranglekit/kvns/internal/api"
)

// Credentials accepted by the fake server.
const (
	AccountID = "test-account"
	APIToken  = "test-token"
)

// Request records one request received by the server.
type Request struct {
	Method string
	Path   string // escaped path relative to the account root
	Query  url.Values
}

// Entry is a stored value with its key attributes.
type Entry struct {
	Value      []byte
	Expiration int64
	Metadata   any
}

type namespace struct {
	ID    string
	Title string
}

// Server is a fake API backed by maps. The zero value is not usable;
// construct with NewServer.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	namespaces []namespace
	values     map[string]map[string]Entry
	projects   map[string]map[string]string
	requests   []Request
	nextID     int

	// Fail, when set, is consulted before routing. A non-nil detail makes
	// the server answer with "success": false and that error.
	Fail func(r Request) *api.ErrorDetail
}

// NewServer starts a fake server that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		values:   make(map[string]map[string]Entry),
		projects: make(map[string]map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Client returns an api.Client pointed at the server.
func (s *Server) Client(t *testing.T) *api.Client {
	t.Helper()

	client, err := api.New(&api.Config{
		BaseURL:    s.URL,
		AccountID:  AccountID,
		APIToken:   APIToken,
		HTTPClient: s.Server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to create api client: %v", err)
	}
	return client
}

// AddNamespace creates a namespace and returns its ID. Duplicate titles are
// allowed, as on the real service.
func (s *Server) AddNamespace(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNamespace(title)
}

func (s *Server) addNamespace(title string) string {
	s.nextID++
	id := fmt.Sprintf("ns%04d", s.nextID)
	s.namespaces = append(s.namespaces, namespace{ID: id, Title: title})
	s.values[id] = make(map[string]Entry)
	return id
}

// NamespaceID returns the ID of the first namespace with title.
func (s *Server) NamespaceID(title string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ns := range s.sortedNamespaces() {
		if ns.Title == title {
			return ns.ID, true
		}
	}
	return "", false
}

// Titles returns all namespace titles in listing order.
func (s *Server) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var titles []string
	for _, ns := range s.sortedNamespaces() {
		titles = append(titles, ns.Title)
	}
	return titles
}

// SetValue stores a value.
func (s *Server) SetValue(nsID, key string, value []byte) {
	s.SetEntry(nsID, key, Entry{Value: value})
}

// SetEntry stores a value with expiration and metadata.
func (s *Server) SetEntry(nsID, key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[nsID] == nil {
		s.values[nsID] = make(map[string]Entry)
	}
	s.values[nsID][key] = e
}

// Entries returns a copy of a namespace's contents.
func (s *Server) Entries(nsID string) map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.values[nsID]))
	for k, v := range s.values[nsID] {
		out[k] = v
	}
	return out
}

// Values returns a namespace's key→value map.
func (s *Server) Values(nsID string) map[string]string {
	out := make(map[string]string)
	for k, e := range s.Entries(nsID) {
		out[k] = string(e.Value)
	}
	return out
}

// SetProject registers a Pages project with production KV bindings
// (variable name → namespace ID).
func (s *Server) SetProject(name string, bindings map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[name] = bindings
}

// Requests returns every request whose method matches and whose path has
// the given suffix. An empty method matches all methods.
func (s *Server) Requests(method, suffix string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && strings.HasSuffix(r.Path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

// CountMutations returns the number of non-GET requests received.
func (s *Server) CountMutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method != http.MethodGet {
			n++
		}
	}
	return n
}

func (s *Server) sortedNamespaces() []namespace {
	out := make([]namespace, len(s.namespaces))
	copy(out, s.namespaces)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/accounts/" + AccountID + "/"
	escaped := r.URL.EscapedPath()
	if !strings.HasPrefix(escaped, prefix) {
		writeError(w, http.StatusNotFound, 7003, "could not route to "+escaped)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+APIToken {
		writeError(w, http.StatusForbidden, 10000, "Authentication error")
		return
	}

	req := Request{Method: r.Method, Path: strings.TrimPrefix(escaped, prefix), Query: r.URL.Query()}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	fail := s.Fail
	s.mu.Unlock()

	if fail != nil {
		if d := fail(req); d != nil {
			writeError(w, http.StatusBadRequest, d.Code, d.Message)
			return
		}
	}

	parts := strings.Split(req.Path, "/")
	switch {
	case len(parts) == 3 && parts[0] == "pages" && parts[1] == "projects":
		s.handleProject(w, parts[2])
	case len(parts) >= 3 && parts[0] == "storage" && parts[1] == "kv" && parts[2] == "namespaces":
		s.handleNamespaces(w, r, req, parts[3:])
	default:
		writeError(w, http.StatusNotFound, 7003, "could not route to "+req.Path)
	}
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request, req Request, rest []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.listNamespaces(w, req.Query)
		case http.MethodPost:
			var body struct {
				Title string `json:"title"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
				writeError(w, http.StatusBadRequest, 10019, "invalid title")
				return
			}
			id := s.addNamespace(body.Title)
			writeResult(w, map[string]any{"id": id, "title": body.Title, "supports_url_encoding": true}, nil)
		default:
			writeError(w, http.StatusMethodNotAllowed, 10405, "method not allowed")
		}
		return
	}

	id := rest[0]
	idx := -1
	for i, ns := range s.namespaces {
		if ns.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		writeError(w, http.StatusNotFound, 10013, "namespace not found")
		return
	}

	switch {
	case len(rest) == 1 && r.Method == http.MethodPut:
		var body struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, 10019, "invalid body")
			return
		}
		s.namespaces[idx].Title = body.Title
		writeResult(w, nil, nil)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		s.namespaces = append(s.namespaces[:idx], s.namespaces[idx+1:]...)
		delete(s.values, id)
		writeResult(w, nil, nil)

	case len(rest) == 2 && rest[1] == "keys" && r.Method == http.MethodGet:
		s.listKeys(w, id, req.Query)

	case len(rest) == 3 && rest[1] == "values":
		key, err := url.PathUnescape(rest[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, 10020, "invalid key")
			return
		}
		switch r.Method {
		case http.MethodGet:
			e, ok := s.values[id][key]
			if !ok {
				writeError(w, http.StatusNotFound, 10009, "get: 'key not found'")
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(e.Value)
		case http.MethodDelete:
			delete(s.values[id], key)
			writeResult(w, nil, nil)
		default:
			writeError(w, http.StatusMethodNotAllowed, 10405, "method not allowed")
		}

	case len(rest) == 2 && rest[1] == "bulk" && r.Method == http.MethodPut:
		var writes []struct {
			Key        string `json:"key"`
			Value      string `json:"value"`
			Expiration int64  `json:"expiration"`
			Metadata   any    `json:"metadata"`
			Base64     bool   `json:"base64"`
		}
		if err := json.NewDecoder(r.Body).Decode(&writes); err != nil {
			writeError(w, http.StatusBadRequest, 10019, "invalid bulk body")
			return
		}
		for _, kw := range writes {
			value := []byte(kw.Value)
			if kw.Base64 {
				decoded, err := base64.StdEncoding.DecodeString(kw.Value)
				if err != nil {
					writeError(w, http.StatusBadRequest, 10019, "invalid base64")
					return
				}
				value = decoded
			}
			s.values[id][kw.Key] = Entry{Value: value, Expiration: kw.Expiration, Metadata: kw.Metadata}
		}
		writeResult(w, nil, nil)

	case len(rest) == 2 && rest[1] == "bulk" && r.Method == http.MethodDelete:
		var names []string
		if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
			writeError(w, http.StatusBadRequest, 10019, "invalid bulk body")
			return
		}
		for _, name := range names {
			delete(s.values[id], name)
		}
		writeResult(w, nil, nil)

	default:
		writeError(w, http.StatusNotFound, 7003, "could not route to "+req.Path)
	}
}

func (s *Server) listNamespaces(w http.ResponseWriter, q url.Values) {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	all := s.sortedNamespaces()
	start := (page - 1) * perPage
	if start > len(all) {
		start = len(all)
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}

	result := make([]map[string]any, 0, end-start)
	for _, ns := range all[start:end] {
		result = append(result, map[string]any{"id": ns.ID, "title": ns.Title, "supports_url_encoding": true})
	}
	writeResult(w, result, &api.ResultInfo{Page: page, PerPage: perPage, Count: len(result), TotalCount: len(all)})
}

func (s *Server) listKeys(w http.ResponseWriter, id string, q url.Values) {
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 1000
	}
	start, _ := strconv.Atoi(q.Get("cursor"))

	names := make([]string, 0, len(s.values[id]))
	for k := range s.values[id] {
		names = append(names, k)
	}
	sort.Strings(names)

	if start > len(names) {
		start = len(names)
	}
	end := start + limit
	if end > len(names) {
		end = len(names)
	}

	result := make([]map[string]any, 0, end-start)
	for _, name := range names[start:end] {
		e := s.values[id][name]
		entry := map[string]any{"name": name}
		if e.Expiration != 0 {
			entry["expiration"] = e.Expiration
		}
		if e.Metadata != nil {
			entry["metadata"] = e.Metadata
		}
		result = append(result, entry)
	}

	cursor := ""
	if end < len(names) {
		cursor = strconv.Itoa(end)
	}
	writeResult(w, result, &api.ResultInfo{Count: len(result), Cursor: cursor})
}

func (s *Server) handleProject(w http.ResponseWriter, name string) {
	s.mu.Lock()
	bindings, ok := s.projects[name]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, 8000007, "Project not found")
		return
	}

	kv := make(map[string]any, len(bindings))
	for v, id := range bindings {
		kv[v] = map[string]string{"namespace_id": id}
	}
	writeResult(w, map[string]any{
		"name": name,
		"deployment_configs": map[string]any{
			"production": map[string]any{"kv_namespaces": kv},
			"preview":    map[string]any{},
		},
	}, nil)
}

func writeResult(w http.ResponseWriter, result any, info *api.ResultInfo) {
	body := map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
	}
	if info != nil {
		body["result_info"] = info
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  false,
		"errors":   []api.ErrorDetail{{Code: code, Message: message}},
		"messages": []any{},
		"result":   nil,
	})
}
