package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/condition"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// CompiledRule pairs a rule definition with its compiled condition tree.
type CompiledRule struct {
	Rule domain.Rule
	Tree condition.Node
}

// Definition returns a copy of the rule that shares no memory with the snapshot.
func (c *CompiledRule) Definition() domain.Rule {
	r := c.Rule
	r.Conditions = condition.ToCondition(c.Tree)
	return r
}

// Snapshot is an immutable, ordered view of the rule set.
type Snapshot struct {
	version uint64
	all     []*CompiledRule
	active  []*CompiledRule
	byID    map[string]*CompiledRule
}

func newSnapshot(version uint64, rules []*CompiledRule) *Snapshot {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, compareRules)

	s := &Snapshot{
		version: version,
		all:     ordered,
		byID:    make(map[string]*CompiledRule, len(ordered)),
	}
	for _, r := range ordered {
		s.byID[r.Rule.ID] = r
		if r.Rule.Active {
			s.active = append(s.active, r)
		}
	}
	return s
}

// compareRules orders by priority descending, then creation order ascending.
func compareRules(a, b *CompiledRule) int {
	if c := cmp.Compare(b.Rule.Priority, a.Rule.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Rule.Sequence, b.Rule.Sequence)
}

// Version increases with every mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// Rules returns the active rules in evaluation order. Callers must not modify it.
func (s *Snapshot) Rules() []*CompiledRule { return s.active }

// All returns every rule, active or not, in evaluation order.
func (s *Snapshot) All() []*CompiledRule { return s.all }

// Get looks up a rule by id.
func (s *Snapshot) Get(id string) (*CompiledRule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Verify checks the ordering invariant.
func (s *Snapshot) Verify() error {
	if len(s.byID) != len(s.all) {
		return fmt.Errorf("%w: index has %d rules, list has %d", domain.ErrSnapshotCorrupted, len(s.byID), len(s.all))
	}
	if !slices.IsSortedFunc(s.all, compareRules) {
		return fmt.Errorf("%w: rules out of order", domain.ErrSnapshotCorrupted)
	}
	return nil
}

// Store is the authoritative rule set. Writers are serialized by a mutex;
// readers take the current snapshot without locking.
type Store struct {
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	repo     domain.RuleRepository
	nextSeq  int64
	onChange []func(domain.RuleChangeEvent)
	now      func() time.Time
}

// NewStore creates an empty store. repo may be nil for a memory-only store.
func NewStore(repo domain.RuleRepository) *Store {
	s := &Store{repo: repo, nextSeq: 1, now: time.Now}
	s.current.Store(newSnapshot(0, nil))
	return s
}

// OnChange registers a callback invoked after each successful mutation.
// Callbacks run on the writer's goroutine and must not block.
func (s *Store) OnChange(fn func(domain.RuleChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Load replaces the in-memory set with the rules persisted in the repository.
// Stored rules that no longer compile are skipped and logged.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	stored, err := s.repo.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	compiled := make([]*CompiledRule, 0, len(stored))
	for _, r := range stored {
		tree, err := condition.Compile(r.Conditions)
		if err != nil {
			slog.Warn("skipping stored rule", "rule_id", r.ID, "error", err)
			continue
		}
		c := &CompiledRule{Rule: *r, Tree: tree}
		c.Rule.Conditions = condition.ToCondition(tree)
		compiled = append(compiled, c)
		if r.Sequence >= s.nextSeq {
			s.nextSeq = r.Sequence + 1
		}
	}

	s.publish(compiled, domain.RuleChangeEvent{Action: "load"})
	return len(compiled), nil
}

// Get returns a rule by id.
func (s *Store) Get(id string) (*domain.Rule, error) {
	c, ok := s.Snapshot().Get(id)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}
	r := c.Definition()
	return &r, nil
}

// List returns every rule in evaluation order.
func (s *Store) List() []domain.Rule {
	all := s.Snapshot().All()
	out := make([]domain.Rule, 0, len(all))
	for _, c := range all {
		out = append(out, c.Definition())
	}
	return out
}

// Add validates and stores a new rule. Active defaults to true.
func (s *Store) Add(ctx context.Context, draft domain.RuleDraft) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.build(draft)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.SaveRule(ctx, &c.Rule); err != nil {
			return nil, fmt.Errorf("failed to persist rule: %w", err)
		}
	}
	s.nextSeq++

	cur := s.Snapshot()
	next := append(slices.Clone(cur.all), c)
	s.publish(next, domain.RuleChangeEvent{Action: "add", RuleID: c.Rule.ID})

	r := c.Definition()
	return &r, nil
}

// Update applies a partial patch. The patched rule is revalidated as a whole.
func (s *Store) Update(ctx context.Context, id string, patch domain.RuleDraft) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, id, patch, "update")
}

// SetActive toggles whether a rule takes part in evaluation.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, id, domain.RuleDraft{Active: &active}, "set_active")
}

// Reprioritize sets a rule's priority.
func (s *Store) Reprioritize(ctx context.Context, id string, priority int) (*domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := float64(priority)
	return s.update(ctx, id, domain.RuleDraft{Priority: &p}, "reprioritize")
}

// Remove deletes a rule.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.Snapshot()
	if _, ok := cur.Get(id); !ok {
		return &domain.NotFoundError{Kind: "rule", ID: id}
	}
	if s.repo != nil {
		if err := s.repo.DeleteRule(ctx, id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}
	}

	next := slices.DeleteFunc(slices.Clone(cur.all), func(c *CompiledRule) bool {
		return c.Rule.ID == id
	})
	s.publish(next, domain.RuleChangeEvent{Action: "remove", RuleID: id})
	return nil
}

// Replace atomically swaps the whole rule set. Either every draft is valid
// and the set is replaced, or nothing changes.
func (s *Store) Replace(ctx context.Context, drafts []domain.RuleDraft) ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq
	compiled := make([]*CompiledRule, 0, len(drafts))
	for i, d := range drafts {
		c, err := s.buildWithSeq(d, seq)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		compiled = append(compiled, c)
		seq++
	}

	if s.repo != nil {
		defs := make([]*domain.Rule, len(compiled))
		for i, c := range compiled {
			defs[i] = &c.Rule
		}
		if err := s.repo.ReplaceRules(ctx, defs); err != nil {
			return nil, fmt.Errorf("failed to persist rules: %w", err)
		}
	}
	s.nextSeq = seq

	s.publish(compiled, domain.RuleChangeEvent{Action: "replace"})

	out := make([]domain.Rule, 0, len(compiled))
	for _, c := range s.Snapshot().All() {
		out = append(out, c.Definition())
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, id string, patch domain.RuleDraft, action string) (*domain.Rule, error) {
	cur := s.Snapshot()
	existing, ok := cur.Get(id)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}

	merged := draftOf(existing.Definition())
	mergePatch(&merged, patch)

	c, err := s.buildWithSeq(merged, existing.Rule.Sequence)
	if err != nil {
		return nil, err
	}
	c.Rule.ID = existing.Rule.ID
	c.Rule.CreatedAt = existing.Rule.CreatedAt

	if s.repo != nil {
		if err := s.repo.SaveRule(ctx, &c.Rule); err != nil {
			return nil, fmt.Errorf("failed to persist rule: %w", err)
		}
	}

	next := slices.Clone(cur.all)
	for i, r := range next {
		if r.Rule.ID == id {
			next[i] = c
		}
	}
	s.publish(next, domain.RuleChangeEvent{Action: action, RuleID: id})

	r := c.Definition()
	return &r, nil
}

// publish swaps in a new snapshot and notifies listeners. Callers hold mu.
func (s *Store) publish(rules []*CompiledRule, evt domain.RuleChangeEvent) {
	prev := s.Snapshot()
	snap := newSnapshot(prev.Version()+1, rules)
	s.current.Store(snap)

	for _, c := range prev.all {
		if _, ok := snap.Get(c.Rule.ID); !ok {
			metrics.RuleMatches.DeleteLabelValues(c.Rule.ID)
		}
	}

	metrics.RuleSnapshotVersion.Set(float64(snap.version))
	metrics.ActiveRules.Set(float64(len(snap.active)))

	evt.Version = snap.version
	for _, fn := range s.onChange {
		fn(evt)
	}
}

func (s *Store) build(d domain.RuleDraft) (*CompiledRule, error) {
	return s.buildWithSeq(d, s.nextSeq)
}

func (s *Store) buildWithSeq(d domain.RuleDraft, seq int64) (*CompiledRule, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}
	tree, err := condition.Compile(*d.Conditions)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := domain.Rule{
		ID:         uuid.New().String(),
		Name:       strings.TrimSpace(*d.Name),
		Conditions: condition.ToCondition(tree),
		Event: domain.RuleEvent{
			Type:   strings.TrimSpace(*d.Event.Type),
			Params: domain.EventParams{Score: *d.Event.Params.Score},
		},
		Priority:  int(*d.Priority),
		Active:    true,
		Sequence:  seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d.Description != nil {
		r.Description = *d.Description
	}
	if d.Event.Params.Message != nil {
		r.Event.Params.Message = *d.Event.Params.Message
	}
	if d.Active != nil {
		r.Active = *d.Active
	}
	return &CompiledRule{Rule: r, Tree: tree}, nil
}

// validateDraft checks a complete draft. Score and priority are validated
// here so evaluation never has to.
func validateDraft(d domain.RuleDraft) error {
	var missing []string
	if d.Name == nil || strings.TrimSpace(*d.Name) == "" {
		missing = append(missing, "name")
	}
	if d.Conditions == nil {
		missing = append(missing, "conditions")
	}
	if d.Event == nil || d.Event.Type == nil || strings.TrimSpace(*d.Event.Type) == "" {
		missing = append(missing, "event.type")
	}
	if d.Event == nil || d.Event.Params.Score == nil {
		missing = append(missing, "event.params.score")
	}
	if d.Priority == nil {
		missing = append(missing, "priority")
	}
	if len(missing) > 0 {
		return &domain.ValidationError{Fields: missing, Reason: "required field missing"}
	}

	score := *d.Event.Params.Score
	if math.IsNaN(score) || score < 0 || score > 1 {
		return &domain.ValidationError{Fields: []string{"event.params.score"}, Reason: "score must be within [0, 1]"}
	}

	p := *d.Priority
	if p < 0 || p != math.Trunc(p) || p > math.MaxInt32 {
		return &domain.ValidationError{Fields: []string{"priority"}, Reason: "priority must be a non-negative integer"}
	}
	return nil
}

func draftOf(r domain.Rule) domain.RuleDraft {
	priority := float64(r.Priority)
	d := domain.RuleDraft{
		Name:        &r.Name,
		Description: &r.Description,
		Conditions:  &r.Conditions,
		Priority:    &priority,
		Active:      &r.Active,
		Event:       &domain.EventDraft{Type: &r.Event.Type},
	}
	d.Event.Params.Message = &r.Event.Params.Message
	d.Event.Params.Score = &r.Event.Params.Score
	return d
}

func mergePatch(d *domain.RuleDraft, p domain.RuleDraft) {
	if p.Name != nil {
		d.Name = p.Name
	}
	if p.Description != nil {
		d.Description = p.Description
	}
	if p.Conditions != nil {
		d.Conditions = p.Conditions
	}
	if p.Priority != nil {
		d.Priority = p.Priority
	}
	if p.Active != nil {
		d.Active = p.Active
	}
	if p.Event != nil {
		if p.Event.Type != nil {
			d.Event.Type = p.Event.Type
		}
		if p.Event.Params.Message != nil {
			d.Event.Params.Message = p.Event.Params.Message
		}
		if p.Event.Params.Score != nil {
			d.Event.Params.Score = p.Event.Params.Score
		}
	}
}
