// Package flags holds the process view of which marketplace features are on.
//
// A Store starts from the compiled-in defaults, is overlaid with whatever was
// persisted in the key-value store and can be overlaid again by a remote
// configuration fetch. The in-memory map is authoritative for the lifetime of
// the process; persistence is best effort and never rolls a mutation back.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultStorageKey     = "featureFlags"
	DefaultRemoteTimeout  = 5 * time.Second
	DefaultPersistTimeout = 2 * time.Second
)

var (
	ErrNoRemote     = errors.New("no remote flag source configured")
	ErrUnknownFlag  = errors.New("unknown feature flag")
	ErrEmptyPayload = errors.New("remote flag payload is empty")
)

// KV is the persisted key-value store the flag map is saved to.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// RemoteSource fetches the remote flag overrides.
type RemoteSource interface {
	FetchFeatures(ctx context.Context) (map[string]bool, error)
}

// Source tags where a change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceReset  Source = "reset"
)

// Change is emitted for every flag whose value actually changed.
type Change struct {
	Feature features.Feature
	Enabled bool
	Source  Source
}

type Store struct {
	kv             KV
	remote         RemoteSource
	storageKey     string
	remoteTimeout  time.Duration
	persistTimeout time.Duration

	defaults map[features.Feature]bool

	mu           sync.RWMutex
	flags        map[features.Feature]bool
	remoteLoaded bool
	// gen numbers each snapshot taken for persistence
	gen uint64

	persistMu sync.Mutex
	persisted uint64

	obsMu     sync.RWMutex
	observers []func([]Change)
}

type Option func(*Store)

// WithDefaults replaces the compiled-in defaults. The key set of m becomes the
// fixed key set of the store.
func WithDefaults(m map[features.Feature]bool) Option {
	return func(s *Store) {
		s.defaults = make(map[features.Feature]bool, len(m))
		for k, v := range m {
			s.defaults[k] = v
		}
	}
}

func WithRemote(r RemoteSource) Option {
	return func(s *Store) { s.remote = r }
}

func WithStorageKey(key string) Option {
	return func(s *Store) { s.storageKey = key }
}

func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:             kv,
		storageKey:     DefaultStorageKey,
		remoteTimeout:  DefaultRemoteTimeout,
		persistTimeout: DefaultPersistTimeout,
		defaults:       features.Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.flags = s.copyDefaults()
	return s
}

// Subscribe registers fn to be called after each mutation that changed at least one flag.
func (s *Store) Subscribe(fn func([]Change)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Initialize overlays the persisted map on top of the defaults. Failures are
// logged and leave the defaults in effect.
func (s *Store) Initialize(ctx context.Context) {
	if s.kv == nil {
		return
	}
	raw, ok, err := s.kv.Get(ctx, s.storageKey)
	if err != nil {
		logger.Warn("failed to read persisted feature flags", zap.String("key", s.storageKey), zap.Error(err))
		return
	}
	if !ok {
		logger.Debug("no persisted feature flags, using defaults")
		return
	}

	var stored map[string]bool
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.Warn("persisted feature flags are corrupt, using defaults", zap.Error(err))
		return
	}

	s.mu.Lock()
	merged := s.copyDefaults()
	ignored := mergeKnown(merged, stored)
	changes := diff(s.flags, merged, SourceLocal)
	s.flags = merged
	s.mu.Unlock()

	if len(ignored) > 0 {
		logger.Warn("ignoring unknown persisted flags", zap.Strings("keys", ignored))
	}
	logger.Info("feature flags initialized", zap.Int("persisted", len(stored)))
	s.notify(changes)
}

// LoadRemoteFlags merges the remote overrides over the current map. It reports
// false and leaves the map untouched on any failure.
func (s *Store) LoadRemoteFlags(ctx context.Context) bool {
	if s.remote == nil {
		logger.Debug("remote flags skipped", zap.Error(ErrNoRemote))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	remote, err := s.remote.FetchFeatures(ctx)
	if err == nil && remote == nil {
		err = ErrEmptyPayload
	}
	if err != nil {
		logger.Warn("failed to load remote feature flags", zap.Error(err))
		return false
	}

	s.mu.Lock()
	merged := s.copyFlags()
	ignored := mergeKnown(merged, remote)
	changes := diff(s.flags, merged, SourceRemote)
	s.flags = merged
	s.remoteLoaded = true
	snapshot, gen := s.snapshot()
	s.mu.Unlock()

	if len(ignored) > 0 {
		logger.Warn("ignoring unknown remote flags", zap.Strings("keys", ignored))
	}
	logger.Info("remote feature flags merged", zap.Int("received", len(remote)), zap.Int("changed", len(changes)))
	s.persist(ctx, snapshot, gen)
	s.notify(changes)
	return true
}

// IsEnabled reports the state of name; unknown names are disabled.
func (s *Store) IsEnabled(name features.Feature) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

func (s *Store) Enable(ctx context.Context, name features.Feature) error {
	_, err := s.set(ctx, name, func(bool) bool { return true })
	return err
}

func (s *Store) Disable(ctx context.Context, name features.Feature) error {
	_, err := s.set(ctx, name, func(bool) bool { return false })
	return err
}

// Toggle flips name and returns its new state.
func (s *Store) Toggle(ctx context.Context, name features.Feature) (bool, error) {
	return s.set(ctx, name, func(v bool) bool { return !v })
}

// AllFlags returns a copy of every known flag.
func (s *Store) AllFlags() map[features.Feature]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFlags()
}

func (s *Store) RemoteLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteLoaded
}

func (s *Store) ResetToDefaults(ctx context.Context) {
	s.mu.Lock()
	next := s.copyDefaults()
	changes := diff(s.flags, next, SourceReset)
	s.flags = next
	snapshot, gen := s.snapshot()
	s.mu.Unlock()

	logger.Info("feature flags reset to defaults", zap.Int("changed", len(changes)))
	s.persist(ctx, snapshot, gen)
	s.notify(changes)
}

// set applies fn to one known flag. The returned error only ever reports an
// unknown name; persistence failures are logged.
func (s *Store) set(ctx context.Context, name features.Feature, fn func(bool) bool) (bool, error) {
	s.mu.Lock()
	old, ok := s.flags[name]
	if !ok {
		s.mu.Unlock()
		logger.Warn("refusing to set unknown feature flag", zap.String("flag", string(name)))
		return false, fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	next := fn(old)
	s.flags[name] = next
	snapshot, gen := s.snapshot()
	s.mu.Unlock()

	logger.Info("feature flag set", zap.String("flag", string(name)), zap.Bool("enabled", next))
	s.persist(ctx, snapshot, gen)
	if old != next {
		s.notify([]Change{{Feature: name, Enabled: next, Source: SourceLocal}})
	}
	return next, nil
}

// persist writes snapshot unless a later generation has already been written.
// Writes are serialized so the stored map never goes back in time.
func (s *Store) persist(ctx context.Context, snapshot map[features.Feature]bool, gen uint64) {
	if s.kv == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if gen <= s.persisted {
		logger.Debug("skipping stale feature flag snapshot", zap.Uint64("gen", gen), zap.Uint64("persisted", s.persisted))
		return
	}
	s.persisted = gen

	b, err := json.Marshal(snapshot)
	if err != nil {
		logger.Warn("failed to encode feature flags", zap.Error(err))
		return
	}

	// Detach from the caller's cancellation so a finished request still gets its write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, s.storageKey, string(b)); err != nil {
		logger.Warn("failed to persist feature flags", zap.String("key", s.storageKey), zap.Error(err))
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.obsMu.RLock()
	observers := append([]func([]Change){}, s.observers...)
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(changes)
	}
}

// snapshot must be called with mu held for writing.
func (s *Store) snapshot() (map[features.Feature]bool, uint64) {
	s.gen++
	return s.copyFlags(), s.gen
}

// copyFlags must be called with mu held.
func (s *Store) copyFlags() map[features.Feature]bool {
	out := make(map[features.Feature]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

func (s *Store) copyDefaults() map[features.Feature]bool {
	out := make(map[features.Feature]bool, len(s.defaults))
	for k, v := range s.defaults {
		out[k] = v
	}
	return out
}

// mergeKnown overlays src onto dst for keys dst already has and returns the
// keys of src that were dropped.
func mergeKnown(dst map[features.Feature]bool, src map[string]bool) []string {
	var ignored []string
	for k, v := range src {
		f := features.Feature(k)
		if _, ok := dst[f]; !ok {
			ignored = append(ignored, k)
			continue
		}
		dst[f] = v
	}
	return ignored
}

// diff lists the keys of next whose value differs from prev, in declaration order.
func diff(prev, next map[features.Feature]bool, src Source) []Change {
	var out []Change
	seen := make(map[features.Feature]bool, len(next))
	for _, f := range features.All {
		if v, ok := next[f]; ok {
			seen[f] = true
			if prev[f] != v {
				out = append(out, Change{Feature: f, Enabled: v, Source: src})
			}
		}
	}
	for f, v := range next {
		if !seen[f] && prev[f] != v {
			out = append(out, Change{Feature: f, Enabled: v, Source: src})
		}
	}
	return out
}
