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

// Period is a budget reset cadence.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// duration returns the period length. Monthly approximates to 30 days;
// budgets are guardrails, not accounting.
func (p Period) duration() (time.Duration, error) {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour, nil
	case PeriodWeekly:
		return 7 * 24 * time.Hour, nil
	case PeriodMonthly:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown budget period %q", p)
	}
}

// Envelope is one agent's spending envelope: a limit that resets each
// period. Spend accumulates lazily; the period rolls over on the first
// touch after it elapses rather than on a timer.
type Envelope struct {
	Agent    string    `yaml:"-" json:"agent"`
	Limit    float64   `yaml:"limit" json:"limit"`
	Spent    float64   `yaml:"spent" json:"spent"`
	Period   Period    `yaml:"period" json:"period"`
	StartsAt time.Time `yaml:"starts_at" json:"starts_at"`
}

// Remaining returns the unspent portion of the envelope.
func (e *Envelope) Remaining() float64 {
	if e.Spent >= e.Limit {
		return 0
	}
	return e.Limit - e.Spent
}

// BudgetStore manages spending envelopes, persisted to budgets.yaml.
//
// Thread-safe — Check and Spend run on engine evaluations while the CLI
// creates envelopes and Reload picks up external edits.
type BudgetStore struct {
	mu        sync.Mutex
	envelopes map[string]*Envelope
	path      string
	now       func() time.Time
}

// budgetFile is the YAML envelope for budgets.yaml.
type budgetFile struct {
	Agents map[string]*Envelope `yaml:"agents"`
}

// NewBudgetStore loads envelopes from path. A missing file yields an
// empty store; agents without an envelope are not budget-constrained.
func NewBudgetStore(path string) (*BudgetStore, error) {
	s := &BudgetStore{
		envelopes: make(map[string]*Envelope),
		path:      path,
		now:       time.Now,
	}
	if err := s.loadFromFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BudgetStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading budget store %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file budgetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing budget store %s: %w", s.path, err)
	}

	envelopes := make(map[string]*Envelope, len(file.Agents))
	for agent, e := range file.Agents {
		if e == nil {
			continue
		}
		if _, err := e.Period.duration(); err != nil {
			return fmt.Errorf("budget store %s: agent %q: %w", s.path, agent, err)
		}
		e.Agent = agent
		envelopes[agent] = e
	}
	s.envelopes = envelopes

	slog.Info("budget store loaded", "envelopes", len(s.envelopes), "path", s.path)
	return nil
}

// Create sets up (or replaces) an agent's envelope and persists the
// store. Spent resets to zero and the period starts now.
func (s *BudgetStore) Create(agentID string, limit float64, period Period) error {
	if limit <= 0 {
		return fmt.Errorf("budget limit must be positive, got %v", limit)
	}
	if _, err := period.duration(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.envelopes[agentID] = &Envelope{
		Agent:    agentID,
		Limit:    limit,
		Period:   period,
		StartsAt: s.now().UTC(),
	}
	return s.saveLocked()
}

// rolloverLocked resets an envelope whose period has elapsed. Reset is
// lazy: it happens on the next Check or Spend, not on a timer, and the
// new period starts at the moment of rollover.
func (s *BudgetStore) rolloverLocked(e *Envelope) {
	d, err := e.Period.duration()
	if err != nil {
		return
	}
	now := s.now().UTC()
	if now.Sub(e.StartsAt) >= d {
		slog.Info("budget period rolled over",
			"agent", e.Agent, "period", e.Period, "spent", e.Spent)
		e.Spent = 0
		e.StartsAt = now
	}
}

// Check evaluates the budget protocol: the proposed cost must fit in the
// agent's remaining envelope. Agents without an envelope pass — budgets
// constrain only agents an operator has put on one.
func (s *BudgetStore) Check(agentID string, cost float64) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.envelopes[agentID]
	if !ok {
		return Verdict{Allowed: true, Reason: "no budget envelope configured"}
	}
	s.rolloverLocked(e)

	details := map[string]any{
		"limit": e.Limit, "spent": e.Spent, "cost": cost, "period": string(e.Period),
	}
	if e.Spent+cost > e.Limit {
		return Verdict{
			Allowed: false,
			Reason: fmt.Sprintf("budget exceeded: %.2f spent + %.2f cost > %.2f limit (%s)",
				e.Spent, cost, e.Limit, e.Period),
			Details: details,
		}
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("%.2f of %.2f %s budget remaining", e.Remaining()-cost, e.Limit, e.Period),
		Details: details,
	}
}

// Spend debits an agent's envelope and persists the store. Called by the
// engine after a fully permitted action.
func (s *BudgetStore) Spend(agentID string, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("spend cost must be non-negative, got %v", cost)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.envelopes[agentID]
	if !ok {
		return nil
	}
	s.rolloverLocked(e)
	e.Spent += cost
	return s.saveLocked()
}

// Get returns the agent's envelope after applying any pending rollover,
// or false when none is configured.
func (s *BudgetStore) Get(agentID string) (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.envelopes[agentID]
	if !ok {
		return Envelope{}, false
	}
	s.rolloverLocked(e)
	return *e, true
}

// List returns all envelopes sorted by agent ID.
func (s *BudgetStore) List() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Envelope, 0, len(s.envelopes))
	for _, e := range s.envelopes {
		s.rolloverLocked(e)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Reload re-reads budgets.yaml, picking up external edits.
func (s *BudgetStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFromFile()
}

func (s *BudgetStore) saveLocked() error {
	file := budgetFile{Agents: s.envelopes}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling budget store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing budget store %s: %w", s.path, err)
	}
	return nil
}
