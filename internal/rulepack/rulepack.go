// Package rulepack reads rule definitions from YAML files and keeps the
// rule store in sync with them.
package rulepack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Pack is the file format:
//
//	rules:
//	  - name: Large Amount
//	    conditions:
//	      all:
//	        - {fact: transaction_amount, operator: greaterThan, value: 10000}
//	    event: {type: fraud, params: {message: Amount over limit, score: 0.7}}
//	    priority: 10
//	    active: true
type Pack struct {
	Rules []domain.RuleDraft `yaml:"rules"`
}

// Parse decodes a pack. Unknown keys are rejected.
func Parse(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pack
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, fmt.Errorf("failed to parse rule pack: %w", err)
	}
	return &p, nil
}

// Load reads and parses a pack file.
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Validate applies the rule store's own validation to every rule in the
// pack without touching any live store.
func Validate(p *Pack) ([]domain.Rule, error) {
	return rules.NewStore(nil).Replace(context.Background(), p.Rules)
}

// Loader applies a pack file to a store and optionally follows changes.
type Loader struct {
	path  string
	store *rules.Store
}

// NewLoader creates a loader for path.
func NewLoader(path string, store *rules.Store) *Loader {
	return &Loader{path: filepath.Clean(path), store: store}
}

// Apply loads the pack and replaces the store's rule set with it. An
// invalid or empty pack leaves the store unchanged.
func (l *Loader) Apply(ctx context.Context) (int, error) {
	p, err := Load(l.path)
	if err != nil {
		return 0, err
	}
	if len(p.Rules) == 0 {
		return 0, fmt.Errorf("rule pack %s has no rules", l.path)
	}
	applied, err := l.store.Replace(ctx, p.Rules)
	if err != nil {
		return 0, fmt.Errorf("rule pack %s rejected: %w", l.path, err)
	}
	slog.Info("rule pack applied",
		"path", l.path,
		"rules", len(applied),
		"version", l.store.Snapshot().Version(),
	)
	return len(applied), nil
}

// Watch reapplies the pack whenever the file is written or replaced.
// The directory is watched so that editors that save by rename are seen.
// Call the returned stop function to clean up.
func (l *Loader) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rule pack watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("rule pack watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := l.Apply(ctx); err != nil {
					slog.Warn("rule pack reload failed, keeping current rules",
						"path", l.path,
						"error", err,
					)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("rule pack watcher error", "error", err)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
