package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/implindex/internal/implindex"
	"github.com/kingrea/implindex/internal/logbook"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// Submission is the JSON form of a fragment upload. Components keep the
// order in which they appear in the request body.
type Submission struct {
	Capability string            `json:"capability"`
	Components implindex.Mapping `json:"components"`
	Source     string            `json:"source,omitempty"`
}

// Normalize trims identifiers before validation.
func (s *Submission) Normalize() {
	if s == nil {
		return
	}
	s.Capability = strings.TrimSpace(s.Capability)
	s.Source = strings.TrimSpace(s.Source)
}

// Validate enforces baseline requirements for a submission.
func (s Submission) Validate() error {
	if s.Capability == "" {
		return errors.New("capability is required")
	}
	if strings.ContainsAny(s.Capability, "/ ") {
		return fmt.Errorf("capability %q is not a path", s.Capability)
	}
	return nil
}

// Journal records handoffs. *logbook.Logbook satisfies it.
type Journal interface {
	Record(logbook.Handoff) string
	Info(format string, args ...any)
	Warn(format string, args ...any)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Ready         bool   `json:"ready"`
	Capabilities  int    `json:"capabilities"`
	Pending       int    `json:"pending"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type receiptResponse struct {
	Receipt    string         `json:"receipt"`
	Capability string         `json:"capability"`
	Path       implindex.Path `json:"path"`
	ServerTime time.Time      `json:"server_time"`
}

type openResponse struct {
	Ready   bool `json:"ready"`
	Drained int  `json:"drained"`
}

// CapabilitySummary describes one index in GET /capabilities.
type CapabilitySummary struct {
	Name       string `json:"name"`
	Open       bool   `json:"open"`
	Pending    int    `json:"pending"`
	Revision   uint64 `json:"revision"`
	Components int    `json:"components"`
}

// IndexResponse is the body of GET /index/{capability}.
type IndexResponse struct {
	Capability string            `json:"capability"`
	Revision   uint64            `json:"revision"`
	Open       bool              `json:"open"`
	Entries    implindex.Mapping `json:"entries"`
}

// ComponentResponse is the body of GET /index/{capability}/{component}.
type ComponentResponse struct {
	Capability   string                 `json:"capability"`
	Component    string                 `json:"component"`
	Implementors []implindex.Descriptor `json:"implementors"`
}
