// Package loader fetches the code bundles a feature needs before its screens
// are allowed to render.
//
// Loads for one feature fan out concurrently and are joined once every loader
// has settled. A failing loader never cancels its siblings; its result is
// simply missing from the returned slice.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"farmgate/internal/metrics"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Module is whatever a loader yields. The loader never looks inside.
type Module any

// LoaderFunc produces one module of a feature.
type LoaderFunc func(ctx context.Context) (Module, error)

// Registry maps a feature onto the loaders of its bundles.
type Registry map[features.Feature][]LoaderFunc

// Source resolves a module path.
type Source interface {
	Fetch(ctx context.Context, path string) (Module, error)
}

var ErrNoSource = errors.New("no module source configured")

// LoadError tags a failed load with the module path.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Loader struct {
	source   Source
	registry Registry
	timeout  time.Duration
	observer metrics.LoaderObserver

	mu     sync.RWMutex
	loaded map[features.Feature]bool
}

type Option func(*Loader)

// WithTimeout bounds every single load. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

func WithObserver(o metrics.LoaderObserver) Option {
	return func(l *Loader) { l.observer = o }
}

func New(source Source, registry Registry, opts ...Option) *Loader {
	l := &Loader{
		source:   source,
		registry: registry,
		loaded:   make(map[features.Feature]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetRegistry swaps the registry, typically once right after construction
// when the registry itself is built from l.Bundle.
func (l *Loader) SetRegistry(r Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registry = r
}

// Bundle adapts a module path into a registry entry.
func (l *Loader) Bundle(path string) LoaderFunc {
	return func(ctx context.Context) (Module, error) {
		return l.LoadModule(ctx, path)
	}
}

// LoadModule resolves one path. Failures come back as *LoadError.
func (l *Loader) LoadModule(ctx context.Context, path string) (Module, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug("loading module", zap.String("path", path))

	var (
		mod Module
		err error
	)
	if l.source == nil {
		err = ErrNoSource
	} else {
		mod, err = l.source.Fetch(ctx, path)
	}
	elapsed := time.Since(start)
	if l.observer != nil {
		l.observer.ObserveLoad(path, elapsed.Seconds(), err == nil)
	}

	if err != nil {
		logger.Warn("module load failed", zap.String("path", path), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, &LoadError{Path: path, Err: err}
	}
	logger.Debug("module loaded", zap.String("path", path), zap.Duration("elapsed", elapsed))
	return mod, nil
}

// LoadFeatureModules runs every loader registered for feature concurrently and
// returns the modules that resolved, in registration order. Every call runs
// the loaders again; nothing is cached.
func (l *Loader) LoadFeatureModules(ctx context.Context, feature features.Feature) []Module {
	l.mu.RLock()
	loaders := l.registry[feature]
	l.mu.RUnlock()

	if len(loaders) == 0 {
		l.markLoaded(feature)
		return []Module{}
	}

	start := time.Now()
	outcomes := settle(ctx, loaders)

	mods := make([]Module, 0, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		if o.err != nil {
			failed++
			logger.Warn("feature module dropped",
				zap.String("feature", string(feature)),
				zap.Int("index", i),
				zap.Error(o.err))
			continue
		}
		mods = append(mods, o.mod)
	}

	if l.observer != nil {
		l.observer.RecordFeatureLoad(string(feature), len(mods), failed)
	}
	logger.Info("feature modules settled",
		zap.String("feature", string(feature)),
		zap.Int("loaded", len(mods)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))

	if len(mods) > 0 {
		l.markLoaded(feature)
	}
	return mods
}

// PreloadModules warms the given paths in the background. Each path succeeds
// or fails on its own; the returned channel is closed once all have settled.
func (l *Loader) PreloadModules(ctx context.Context, paths []string) <-chan struct{} {
	done := make(chan struct{})
	loaders := make([]LoaderFunc, len(paths))
	for i, p := range paths {
		loaders[i] = l.Bundle(p)
	}
	go func() {
		defer close(done)
		outcomes := settle(ctx, loaders)
		ok := 0
		for _, o := range outcomes {
			if o.err == nil {
				ok++
			}
		}
		logger.Debug("preload settled", zap.Int("requested", len(paths)), zap.Int("loaded", ok))
	}()
	return done
}

// Loaded returns the features whose modules have been loaded at least once.
func (l *Loader) Loaded() map[features.Feature]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[features.Feature]bool, len(l.loaded))
	for k, v := range l.loaded {
		out[k] = v
	}
	return out
}

func (l *Loader) IsLoaded(feature features.Feature) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded[feature]
}

func (l *Loader) markLoaded(feature features.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded[feature] = true
}

type outcome struct {
	mod Module
	err error
}

// settle runs all loaders concurrently and waits for every one of them.
// The group goroutines always return nil so one rejection cannot cancel the rest.
func settle(ctx context.Context, loaders []LoaderFunc) []outcome {
	outcomes := make([]outcome, len(loaders))
	var g errgroup.Group
	for i, fn := range loaders {
		g.Go(func() error {
			outcomes[i] = invoke(ctx, fn)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func invoke(ctx context.Context, fn LoaderFunc) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome{err: fmt.Errorf("loader panicked: %v", r)}
		}
	}()
	mod, err := fn(ctx)
	return outcome{mod: mod, err: err}
}
