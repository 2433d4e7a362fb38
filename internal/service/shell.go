package service

import (
	"context"
	"sync"
	"sync/atomic"

	"farmgate/internal/dependency"
	"farmgate/internal/dto/resp"
	"farmgate/internal/flags"
	"farmgate/internal/loader"
	"farmgate/internal/navigation"
	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publisher receives every flag change the shell observes.
type Publisher interface {
	Publish(ctx context.Context, c v1.Change)
}

// Shell ties the flag store, dependency resolver, module loader and
// navigation table together.
type Shell struct {
	store     *flags.Store
	resolver  *dependency.Resolver
	loader    *loader.Loader
	table     []navigation.Destination
	publisher Publisher

	// set while Start restores flags; LoadEnabled covers those changes
	booting atomic.Bool

	// background loads triggered by flag changes
	bgCtx   context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewShell(store *flags.Store, resolver *dependency.Resolver, l *loader.Loader, table []navigation.Destination, publisher Publisher) *Shell {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Shell{
		store:     store,
		resolver:  resolver,
		loader:    l,
		table:     table,
		publisher: publisher,
		bgCtx:     ctx,
		cancel:    cancel,
	}
	store.Subscribe(s.onChange)
	return s
}

// Start runs the boot sequence: persisted flags, remote overlay, then the
// modules of every enabled feature.
func (s *Shell) Start(ctx context.Context) {
	s.booting.Store(true)
	s.store.Initialize(ctx)
	if !s.store.LoadRemoteFlags(ctx) {
		logger.Info("continuing with local feature flags")
	}
	s.booting.Store(false)
	s.LoadEnabled(ctx)
}

// Stop cancels background loads and waits for them to settle.
func (s *Shell) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// LoadEnabled loads the modules of every enabled feature concurrently.
func (s *Shell) LoadEnabled(ctx context.Context) {
	var g errgroup.Group
	for _, f := range features.All {
		if !s.store.IsEnabled(f) {
			continue
		}
		if unmet := s.resolver.Unmet(f); len(unmet) > 0 {
			logger.Warn("loading feature with unmet dependencies",
				zap.String("feature", string(f)),
				zap.Any("unmet", unmet))
		}
		g.Go(func() error {
			s.loader.LoadFeatureModules(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
}

// Refresh re-fetches remote flags. Newly enabled features load through the
// change subscription.
func (s *Shell) Refresh(ctx context.Context) bool {
	return s.store.LoadRemoteFlags(ctx)
}

// Snapshot captures the inputs of navigation composition for sess.
func (s *Shell) Snapshot(sess *Session) navigation.Snapshot {
	snap := navigation.Snapshot{
		Flags:  s.store.AllFlags(),
		Loaded: s.loader.Loaded(),
	}
	if sess != nil {
		snap.Authenticated = true
		snap.Role = sess.Role
	}
	return snap
}

// Destinations composes the navigation for sess, nil meaning signed out.
func (s *Shell) Destinations(sess *Session) []navigation.Destination {
	return navigation.Compose(s.table, s.Snapshot(sess))
}

// Overview reports flag state for the developer toggle surface.
func (s *Shell) Overview() resp.FlagsOverview {
	all := s.store.AllFlags()
	loaded := s.loader.Loaded()
	defaults := features.Defaults()

	out := resp.FlagsOverview{
		RemoteLoaded: s.store.RemoteLoaded(),
		Flags:        make([]resp.FlagStatus, 0, len(all)),
	}
	for _, f := range features.All {
		enabled, ok := all[f]
		if !ok {
			continue
		}
		out.Flags = append(out.Flags, resp.FlagStatus{
			Name:         string(f),
			Enabled:      enabled,
			Default:      defaults[f],
			Dependencies: toStrings(s.resolver.Dependencies(f)),
			Unmet:        toStrings(s.resolver.Unmet(f)),
			CanEnable:    s.resolver.CanEnable(f),
			Loaded:       loaded[f],
		})
	}
	return out
}

func (s *Shell) Store() *flags.Store {
	return s.store
}

func (s *Shell) onChange(changes []flags.Change) {
	for _, c := range changes {
		if s.publisher != nil {
			s.publisher.Publish(s.bgCtx, v1.Change{
				Key:     string(c.Feature),
				Enabled: c.Enabled,
				Source:  string(c.Source),
			})
		}
		if !c.Enabled || s.booting.Load() {
			continue
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			continue
		}
		s.wg.Add(1)
		s.mu.Unlock()
		f := c.Feature
		go func() {
			defer s.wg.Done()
			s.loader.LoadFeatureModules(s.bgCtx, f)
		}()
	}
}

func toStrings(fs []features.Feature) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f))
	}
	return out
}
