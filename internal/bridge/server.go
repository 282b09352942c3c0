package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kingrea/implindex/internal/fragment"
	"github.com/kingrea/implindex/internal/implindex"
	"github.com/kingrea/implindex/internal/logbook"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("bridge: server disabled")

// Server exposes a catalog over HTTP: fragment producers post to it and
// readers query merged indexes.
type Server struct {
	settings Settings
	catalog  *implindex.Catalog
	journal  Journal
	logger   Logger
	clock    func() time.Time
	cache    *gocache.Cache

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithJournal records every accepted fragment.
func WithJournal(j Journal) Option {
	return func(s *Server) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server for cat using the provided settings.
func NewServer(settings Settings, cat *implindex.Catalog, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		catalog:  cat,
		journal:  (*logbook.Logbook)(nil),
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s.cache = gocache.New(ttl, 2*ttl)
	return s
}

// Handler returns the bridge's routes. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /fragments", s.handleFragments)
	mux.HandleFunc("POST /open", s.handleOpen)
	mux.HandleFunc("GET /capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /index/{capability}", s.handleIndex)
	mux.HandleFunc("GET /index/{capability}/{component}", s.handleComponent)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if s.catalog == nil {
		return fmt.Errorf("bridge: catalog is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		Ready:         s.catalog.IsOpen(),
		Capabilities:  len(s.catalog.Capabilities()),
		Pending:       s.catalog.Pending(),
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFragments(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	sub, err := decodeSubmission(r, body)
	if err == nil {
		sub.Normalize()
		err = sub.Validate()
	}
	if err != nil {
		s.journal.Warn("rejected fragment from %s: %v", r.RemoteAddr, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	frag := implindex.Fragment{Capability: sub.Capability, Source: sub.Source, Mapping: sub.Components}
	path := frag.DeliverTo(s.catalog)
	receipt := s.journal.Record(logbook.Handoff{
		Capability: sub.Capability,
		Path:       path,
		Source:     sub.Source,
		Components: sub.Components.Components(),
	})
	s.logger.Printf("bridge: %s fragment for %s (%d component(s))", path, sub.Capability, len(sub.Components))
	writeJSON(w, http.StatusAccepted, receiptResponse{
		Receipt:    receipt,
		Capability: sub.Capability,
		Path:       path,
		ServerTime: s.now(),
	})
}

// decodeSubmission accepts a JSON submission, a YAML fragment, or a rustdoc
// script whose capability comes from the query string.
func decodeSubmission(r *http.Request, body []byte) (Submission, error) {
	query := r.URL.Query()
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Submission{}, errors.New("empty body")
	}
	sub := Submission{Capability: query.Get("capability"), Source: query.Get("source")}
	switch {
	case strings.Contains(contentType, "json") || trimmed[0] == '{':
		var decoded Submission
		if err := json.Unmarshal(trimmed, &decoded); err != nil {
			return Submission{}, errors.New("invalid JSON")
		}
		if decoded.Capability == "" {
			decoded.Capability = sub.Capability
		}
		if decoded.Source == "" {
			decoded.Source = sub.Source
		}
		return decoded, nil
	case strings.Contains(contentType, "yaml"):
		capability, m, err := fragment.ParseYAML(trimmed)
		if err != nil {
			return Submission{}, err
		}
		sub.Capability, sub.Components = capability, m
		return sub, nil
	default:
		m, err := fragment.Parse(trimmed)
		if err != nil {
			return Submission{}, err
		}
		if sub.Capability == "" && sub.Source != "" {
			sub.Capability = fragment.CapabilityFromPath(sub.Source)
		}
		sub.Components = m
		return sub, nil
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	wasOpen := s.catalog.IsOpen()
	drained := s.catalog.Open()
	if !wasOpen {
		s.journal.Info("catalog opened over HTTP by %s, drained %d pending mapping(s)", r.RemoteAddr, drained)
	}
	if drained > 0 {
		s.logger.Printf("bridge: catalog opened, drained %d pending mapping(s)", drained)
	}
	writeJSON(w, http.StatusOK, openResponse{Ready: true, Drained: drained})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Capabilities()
	out := make([]CapabilitySummary, 0, len(names))
	for _, name := range names {
		ix := s.catalog.Index(name)
		out = append(out, CapabilitySummary{
			Name:       name,
			Open:       ix.IsOpen(),
			Pending:    ix.Pending(),
			Revision:   ix.Revision(),
			Components: ix.Len(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// index resolves the capability path value. With ?wait=true the request
// blocks until the index opens, or until the catalog opens when the
// capability is not known yet. Lookups never create an index.
func (s *Server) index(w http.ResponseWriter, r *http.Request) (*implindex.Index, bool) {
	capability := r.PathValue("capability")
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ready := s.catalog.Ready()
		if ix, ok := s.catalog.Lookup(capability); ok {
			ready = ix.Ready()
		}
		select {
		case <-ready:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "index not ready")
			return nil, false
		}
	}
	ix, ok := s.catalog.Lookup(capability)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown capability %q", capability))
		return nil, false
	}
	return ix, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.index(w, r)
	if !ok {
		return
	}
	entries, revision := ix.Snapshot()
	open := ix.IsOpen()
	key := fmt.Sprintf("%s@%d/%t", ix.Capability(), revision, open)
	if cached, found := s.cache.Get(key); found {
		if body, ok := cached.([]byte); ok {
			w.Header().Set("X-Cache", "hit")
			writeRaw(w, http.StatusOK, body)
			return
		}
	}
	body, err := encodeJSON(IndexResponse{
		Capability: ix.Capability(),
		Revision:   revision,
		Open:       open,
		Entries:    entries,
	})
	if err != nil {
		s.logger.Printf("bridge: encode index %s: %v", ix.Capability(), err)
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	s.cache.SetDefault(key, body)
	w.Header().Set("X-Cache", "miss")
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	ix, ok := s.index(w, r)
	if !ok {
		return
	}
	component := r.PathValue("component")
	impls, found := ix.Lookup(component)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no implementors from %q", component))
		return
	}
	writeJSON(w, http.StatusOK, ComponentResponse{
		Capability:   ix.Capability(),
		Component:    component,
		Implementors: impls,
	})
}

func encodeJSON(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := encodeJSON(payload)
	if err != nil {
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"encoding failed"}`+"\n"))
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
