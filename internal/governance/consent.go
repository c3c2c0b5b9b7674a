package governance

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Grant is one consent: an agent may perform actions matching a glob
// pattern, optionally until an expiry time.
//
// Patterns use glob syntax with ':' as the segment separator, so
// "files:*" covers "files:read" and "files:write" but not
// "files:admin:wipe" — broader consent needs "files:**".
type Grant struct {
	Agent     string     `yaml:"agent" json:"agent"`
	Pattern   string     `yaml:"pattern" json:"pattern"`
	GrantedAt time.Time  `yaml:"granted_at" json:"granted_at"`
	GrantedBy string     `yaml:"granted_by,omitempty" json:"granted_by,omitempty"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	Note      string     `yaml:"note,omitempty" json:"note,omitempty"`

	compiled glob.Glob `yaml:"-" json:"-"`
}

// expired reports whether the grant has lapsed at time now.
func (g *Grant) expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// ConsentStore manages consent grants, persisted to consents.yaml.
//
// Thread-safe — Check runs on every engine evaluation while Grant /
// Revoke / Reload modify state.
type ConsentStore struct {
	mu     sync.RWMutex
	grants []*Grant
	path   string
	now    func() time.Time
}

// consentFile is the YAML envelope for consents.yaml.
type consentFile struct {
	Grants []*Grant `yaml:"grants"`
}

// NewConsentStore loads grants from path. A missing file yields an empty
// store. Grants with patterns that no longer compile are rejected, not
// skipped — a silently dropped grant would flip permits to denials.
func NewConsentStore(path string) (*ConsentStore, error) {
	s := &ConsentStore{path: path, now: time.Now}
	if err := s.loadFromFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConsentStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading consent store %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file consentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing consent store %s: %w", s.path, err)
	}

	grants := make([]*Grant, 0, len(file.Grants))
	for _, g := range file.Grants {
		if g == nil {
			continue
		}
		compiled, err := glob.Compile(g.Pattern, ':')
		if err != nil {
			return fmt.Errorf("consent store %s: invalid pattern %q: %w", s.path, g.Pattern, err)
		}
		g.compiled = compiled
		grants = append(grants, g)
	}
	s.grants = grants

	slog.Info("consent store loaded", "grants", len(s.grants), "path", s.path)
	return nil
}

// Grant records consent for an agent/pattern pair and persists the store.
// Re-granting an existing pair refreshes its timestamp and expiry.
func (s *ConsentStore) Grant(agentID, pattern, by string, expiresAt *time.Time, note string) error {
	compiled, err := glob.Compile(pattern, ':')
	if err != nil {
		return fmt.Errorf("invalid consent pattern %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant := &Grant{
		Agent:     agentID,
		Pattern:   pattern,
		GrantedAt: s.now().UTC(),
		GrantedBy: by,
		ExpiresAt: expiresAt,
		Note:      note,
		compiled:  compiled,
	}

	for i, g := range s.grants {
		if g.Agent == agentID && g.Pattern == pattern {
			s.grants[i] = grant
			return s.saveLocked()
		}
	}
	s.grants = append(s.grants, grant)
	return s.saveLocked()
}

// Revoke removes the grant for an agent/pattern pair and persists the
// store. Revoking a grant that doesn't exist is an error, so typos in
// the pattern don't silently leave consent in place.
func (s *ConsentStore) Revoke(agentID, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, g := range s.grants {
		if g.Agent == agentID && g.Pattern == pattern {
			s.grants = append(s.grants[:i], s.grants[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("no consent grant for agent %q pattern %q", agentID, pattern)
}

// Check evaluates the consent protocol: the action must match at least
// one unexpired grant for the agent.
func (s *ConsentStore) Check(agentID, action string) Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, g := range s.grants {
		if g.Agent != agentID || !g.compiled.Match(action) {
			continue
		}
		if g.expired(now) {
			continue
		}
		return Verdict{
			Allowed: true,
			Reason:  fmt.Sprintf("consent grant %q covers action", g.Pattern),
			Details: map[string]any{"pattern": g.Pattern},
		}
	}
	return Verdict{
		Allowed: false,
		Reason:  fmt.Sprintf("no consent grant covers action %q", action),
	}
}

// List returns all grants (including expired ones, so operators can see
// what lapsed), sorted by agent then pattern.
func (s *ConsentStore) List() []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Agent != out[j].Agent {
			return out[i].Agent < out[j].Agent
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Reload re-reads consents.yaml, picking up external edits.
func (s *ConsentStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFromFile()
}

func (s *ConsentStore) saveLocked() error {
	file := consentFile{Grants: s.grants}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling consent store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing consent store %s: %w", s.path, err)
	}
	return nil
}
