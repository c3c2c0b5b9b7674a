// Package governance implements the decision pipeline that feeds the audit
// ledger: graduated trust levels, scoped consent grants, and resource
// budget envelopes.
//
// Each protocol evaluates independently and reports a permit or deny with
// a reason; the Engine runs them in order and records every evaluation in
// the decision ledger.
//
// Protocol state persists to YAML files (trust.yaml, consents.yaml,
// budgets.yaml) under the state directory. A long-running server
// file-watches them and calls Reload() on change, so CLI edits take
// effect without a restart.
package governance

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Level is a graduated trust level. Higher levels permit more autonomy.
type Level int

const (
	// LevelObserver agents may only observe; every action is denied.
	LevelObserver Level = 0

	// LevelMonitor agents may read state but not act.
	LevelMonitor Level = 1

	// LevelSuggest agents may propose actions for humans to execute.
	LevelSuggest Level = 2

	// LevelActWithApproval agents act only with per-action approval.
	LevelActWithApproval Level = 3

	// LevelActAndReport agents act freely but every action is reported.
	LevelActAndReport Level = 4

	// LevelAutonomous agents act without per-action oversight.
	LevelAutonomous Level = 5
)

var levelNames = map[Level]string{
	LevelObserver:        "observer",
	LevelMonitor:         "monitor",
	LevelSuggest:         "suggest",
	LevelActWithApproval: "act-with-approval",
	LevelActAndReport:    "act-and-report",
	LevelAutonomous:      "autonomous",
}

// String returns the level's name, or its numeric form when out of range.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether the level is one of the defined values.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel accepts a level by name ("autonomous") or number ("5").
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		l := Level(n)
		if l.Valid() {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown trust level %q", s)
}

// Assignment is one agent's trust level and when it was last changed.
// A nil ExpiresAt means the assignment never lapses.
type Assignment struct {
	Agent     string     `yaml:"-" json:"agent"`
	Level     Level      `yaml:"level" json:"level"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	Note      string     `yaml:"note,omitempty" json:"note,omitempty"`
}

// expired reports whether the assignment has lapsed at time now.
func (a *Assignment) expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// TrustStore manages per-agent trust assignments, persisted to trust.yaml.
// Agents without an assignment, or whose assignment has expired, get the
// store's default level.
//
// Thread-safe — the engine reads levels concurrently while the CLI (via
// Reload) or an operator API changes them.
type TrustStore struct {
	mu           sync.RWMutex
	assignments  map[string]*Assignment
	defaultLevel Level
	path         string
	now          func() time.Time
}

// trustFile is the YAML envelope for trust.yaml.
type trustFile struct {
	Agents map[string]*Assignment `yaml:"agents"`
}

// NewTrustStore loads trust assignments from path. A missing file yields
// an empty store, not an error. Agents with no assignment default to
// defaultLevel.
func NewTrustStore(path string, defaultLevel Level) (*TrustStore, error) {
	if !defaultLevel.Valid() {
		return nil, fmt.Errorf("invalid default trust level %d", int(defaultLevel))
	}
	s := &TrustStore{
		assignments:  make(map[string]*Assignment),
		defaultLevel: defaultLevel,
		path:         path,
		now:          time.Now,
	}
	if err := s.loadFromFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TrustStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading trust store %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file trustFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing trust store %s: %w", s.path, err)
	}

	assignments := make(map[string]*Assignment, len(file.Agents))
	for agent, a := range file.Agents {
		if a == nil {
			continue
		}
		if !a.Level.Valid() {
			return fmt.Errorf("trust store %s: agent %q has invalid level %d", s.path, agent, int(a.Level))
		}
		a.Agent = agent
		assignments[agent] = a
	}
	s.assignments = assignments

	slog.Info("trust store loaded", "agents", len(s.assignments), "path", s.path)
	return nil
}

// Level returns the agent's assigned trust level, or the default when the
// agent has no assignment or the assignment has expired.
func (s *TrustStore) Level(agentID string) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.assignments[agentID]; ok && !a.expired(s.now()) {
		return a.Level
	}
	return s.defaultLevel
}

// SetLevel assigns a trust level to an agent and persists the store. A nil
// expiresAt makes the assignment permanent; after expiry the agent falls
// back to the default level.
func (s *TrustStore) SetLevel(agentID string, level Level, expiresAt *time.Time, note string) error {
	if !level.Valid() {
		return fmt.Errorf("invalid trust level %d", int(level))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[agentID] = &Assignment{
		Agent:     agentID,
		Level:     level,
		UpdatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
		Note:      note,
	}
	return s.saveLocked()
}

// Check evaluates the trust protocol for one action: the agent's level
// must meet the required level.
func (s *TrustStore) Check(agentID string, required Level) Verdict {
	level := s.Level(agentID)
	if level >= required {
		return Verdict{
			Allowed: true,
			Reason:  fmt.Sprintf("trust level %s meets required %s", level, required),
			Details: map[string]any{"level": int(level), "required": int(required)},
		}
	}
	return Verdict{
		Allowed: false,
		Reason:  fmt.Sprintf("trust level %s below required %s", level, required),
		Details: map[string]any{"level": int(level), "required": int(required)},
	}
}

// List returns all assignments sorted by agent ID, including expired ones
// so operators can see what lapsed.
func (s *TrustStore) List() []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Reload re-reads trust.yaml, picking up external edits.
func (s *TrustStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFromFile()
}

func (s *TrustStore) saveLocked() error {
	file := trustFile{Agents: s.assignments}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling trust store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing trust store %s: %w", s.path, err)
	}
	return nil
}
