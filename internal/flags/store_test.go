package flags

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"farmgate/internal/repository"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

// recordingKV wraps MemoryKV, counts writes and can be told to fail.
type recordingKV struct {
	*repository.MemoryKV
	mu      sync.Mutex
	sets    []string
	getErr  error
	setErr  error
	lastKey string
	// onSet runs before each write reaches the map
	onSet   func(value string)
}

func newRecordingKV() *recordingKV {
	return &recordingKV{MemoryKV: repository.NewMemoryKV()}
}

func (r *recordingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if r.getErr != nil {
		return "", false, r.getErr
	}
	return r.MemoryKV.Get(ctx, key)
}

func (r *recordingKV) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	r.sets = append(r.sets, value)
	r.lastKey = key
	r.mu.Unlock()
	if r.onSet != nil {
		r.onSet(value)
	}
	if r.setErr != nil {
		return r.setErr
	}
	return r.MemoryKV.Set(ctx, key, value)
}

func (r *recordingKV) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

type fakeRemote struct {
	flags map[string]bool
	err   error
	delay time.Duration
	calls int
}

func (f *fakeRemote) FetchFeatures(ctx context.Context) (map[string]bool, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.flags, f.err
}

func persisted(t *testing.T, kv *recordingKV) map[string]bool {
	t.Helper()
	raw, ok, err := kv.MemoryKV.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok, "nothing persisted")
	var m map[string]bool
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestNewStore_StartsFromDefaults(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, features.Defaults(), s.AllFlags())
	assert.False(t, s.RemoteLoaded())
}

func TestInitialize_MergesPersistedOverDefaults(t *testing.T) {
	kv := newRecordingKV()
	require.NoError(t, kv.MemoryKV.Set(context.Background(), DefaultStorageKey,
		`{"CHAT":true,"AUTH":false,"TELEPORT":true}`))

	s := NewStore(kv)
	s.Initialize(context.Background())

	assert.True(t, s.IsEnabled(features.Chat))
	assert.False(t, s.IsEnabled(features.Auth))
	// missing keys fall back to defaults
	assert.True(t, s.IsEnabled(features.Listings))
	// unknown keys never enter the set
	assert.NotContains(t, s.AllFlags(), features.Feature("TELEPORT"))
	assert.Len(t, s.AllFlags(), len(features.All))
}

func TestInitialize_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(kv *recordingKV)
	}{
		{
			name: "corrupt value",
			setup: func(kv *recordingKV) {
				_ = kv.MemoryKV.Set(context.Background(), DefaultStorageKey, "not-json{")
			},
		},
		{
			name:  "read error",
			setup: func(kv *recordingKV) { kv.getErr = errors.New("disk gone") },
		},
		{
			name:  "nothing stored",
			setup: func(kv *recordingKV) {},
		},
		{
			name: "wrong shape",
			setup: func(kv *recordingKV) {
				_ = kv.MemoryKV.Set(context.Background(), DefaultStorageKey, `["AUTH"]`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newRecordingKV()
			tt.setup(kv)
			s := NewStore(kv)

			assert.NotPanics(t, func() { s.Initialize(context.Background()) })
			assert.Equal(t, features.Defaults(), s.AllFlags())
		})
	}
}

func TestIsEnabled_UnknownIsFalse(t *testing.T) {
	s := NewStore(nil)
	assert.False(t, s.IsEnabled("TELEPORT"))
}

func TestToggleTwice_RestoresAndPersists(t *testing.T) {
	for _, f := range features.All {
		t.Run(string(f), func(t *testing.T) {
			kv := newRecordingKV()
			s := NewStore(kv)
			original := s.IsEnabled(f)

			v, err := s.Toggle(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, !original, v)
			assert.Equal(t, 1, kv.writes())
			assert.Equal(t, !original, persisted(t, kv)[string(f)])

			v, err = s.Toggle(context.Background(), f)
			require.NoError(t, err)
			assert.Equal(t, original, v)
			assert.Equal(t, 2, kv.writes())
			assert.Equal(t, original, persisted(t, kv)[string(f)])
			assert.Equal(t, original, s.IsEnabled(f))
		})
	}
}

func TestEnableDisable_PersistEveryCall(t *testing.T) {
	kv := newRecordingKV()
	s := NewStore(kv)
	ctx := context.Background()

	require.NoError(t, s.Enable(ctx, features.Chat))
	require.NoError(t, s.Enable(ctx, features.Chat))
	require.NoError(t, s.Disable(ctx, features.Auth))

	assert.Equal(t, 3, kv.writes())
	assert.Equal(t, DefaultStorageKey, kv.lastKey)
	p := persisted(t, kv)
	assert.True(t, p["CHAT"])
	assert.False(t, p["AUTH"])
	assert.Len(t, p, len(features.All))
}

func TestSet_UnknownFlagRejected(t *testing.T) {
	kv := newRecordingKV()
	s := NewStore(kv)

	err := s.Enable(context.Background(), "TELEPORT")
	require.ErrorIs(t, err, ErrUnknownFlag)
	_, err = s.Toggle(context.Background(), "TELEPORT")
	require.ErrorIs(t, err, ErrUnknownFlag)

	assert.Zero(t, kv.writes())
	assert.NotContains(t, s.AllFlags(), features.Feature("TELEPORT"))
}

func TestPersistFailure_KeepsMemoryState(t *testing.T) {
	kv := newRecordingKV()
	kv.setErr = errors.New("redis down")
	s := NewStore(kv)

	require.NoError(t, s.Enable(context.Background(), features.Chat))
	assert.True(t, s.IsEnabled(features.Chat))
	assert.Equal(t, 1, kv.writes())
}

func TestPersist_SlowWriteDoesNotOverwriteNewer(t *testing.T) {
	kv := newRecordingKV()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	kv.onSet = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	s := NewStore(kv)
	ctx := context.Background()

	first := make(chan struct{})
	go func() {
		assert.NoError(t, s.Enable(ctx, features.Chat))
		close(first)
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		assert.NoError(t, s.Enable(ctx, features.Payments))
		close(second)
	}()
	require.Eventually(t, func() bool {
		return s.IsEnabled(features.Payments)
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-first
	<-second

	stored := persisted(t, kv)
	assert.True(t, stored["CHAT"])
	assert.True(t, stored["PAYMENTS"])
}

func TestPersist_SkipsOlderGeneration(t *testing.T) {
	kv := newRecordingKV()
	s := NewStore(kv)
	ctx := context.Background()

	newer := s.AllFlags()
	newer[features.Maps] = true
	s.persist(ctx, newer, 2)
	s.persist(ctx, s.AllFlags(), 1)

	assert.Equal(t, 1, kv.writes())
	assert.True(t, persisted(t, kv)["MAPS"])
}

func TestAllFlags_ReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	all := s.AllFlags()
	all[features.Chat] = true
	all["TELEPORT"] = true

	assert.False(t, s.IsEnabled(features.Chat))
	assert.NotContains(t, s.AllFlags(), features.Feature("TELEPORT"))
}

func TestResetToDefaults(t *testing.T) {
	kv := newRecordingKV()
	s := NewStore(kv)
	ctx := context.Background()

	for _, f := range features.All {
		_, err := s.Toggle(ctx, f)
		require.NoError(t, err)
	}
	s.ResetToDefaults(ctx)

	defaults := features.Defaults()
	for _, f := range features.All {
		assert.Equal(t, defaults[f], s.IsEnabled(f), f)
	}
	assert.Equal(t, defaults, s.AllFlags())
	assert.Len(t, persisted(t, kv), len(defaults))
}

func TestLoadRemoteFlags_Success(t *testing.T) {
	kv := newRecordingKV()
	remote := &fakeRemote{flags: map[string]bool{"CHAT": true, "FIREBASE": true, "TELEPORT": true}}
	s := NewStore(kv, WithRemote(remote))

	assert.True(t, s.LoadRemoteFlags(context.Background()))
	assert.True(t, s.RemoteLoaded())
	assert.True(t, s.IsEnabled(features.Chat))
	assert.True(t, s.IsEnabled(features.Firebase))
	assert.NotContains(t, s.AllFlags(), features.Feature("TELEPORT"))
	assert.True(t, persisted(t, kv)["CHAT"])
}

func TestLoadRemoteFlags_FailureLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		remote RemoteSource
	}{
		{"no remote", nil},
		{"fetch error", &fakeRemote{err: errors.New("http 500")}},
		{"nil payload", &fakeRemote{}},
		{"timeout", &fakeRemote{flags: map[string]bool{"CHAT": true}, delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newRecordingKV()
			var opts []Option
			if tt.remote != nil {
				opts = append(opts, WithRemote(tt.remote))
			}
			opts = append(opts, WithRemoteTimeout(20*time.Millisecond))
			s := NewStore(kv, opts...)
			require.NoError(t, s.Enable(context.Background(), features.Maps))
			before := s.AllFlags()
			writes := kv.writes()

			assert.False(t, s.LoadRemoteFlags(context.Background()))
			assert.Equal(t, before, s.AllFlags())
			assert.False(t, s.RemoteLoaded())
			assert.Equal(t, writes, kv.writes())
		})
	}
}

func TestSubscribe_ReceivesOnlyRealChanges(t *testing.T) {
	s := NewStore(nil)
	var got []Change
	s.Subscribe(func(c []Change) { got = append(got, c...) })
	ctx := context.Background()

	require.NoError(t, s.Enable(ctx, features.Auth)) // already on
	require.NoError(t, s.Enable(ctx, features.Chat))
	s.ResetToDefaults(ctx)

	require.Len(t, got, 2)
	assert.Equal(t, Change{Feature: features.Chat, Enabled: true, Source: SourceLocal}, got[0])
	assert.Equal(t, Change{Feature: features.Chat, Enabled: false, Source: SourceReset}, got[1])
}

func TestWithDefaults_FixesKeySet(t *testing.T) {
	s := NewStore(nil, WithDefaults(map[features.Feature]bool{
		features.Auth:     true,
		features.Listings: true,
		features.Chat:     false,
	}))

	assert.Len(t, s.AllFlags(), 3)
	assert.ErrorIs(t, s.Enable(context.Background(), features.Maps), ErrUnknownFlag)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(repository.NewMemoryKV())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Toggle(ctx, features.Chat)
		}()
		go func() {
			defer wg.Done()
			_ = s.AllFlags()
			_ = s.IsEnabled(features.Chat)
		}()
	}
	wg.Wait()

	// an even number of toggles lands back on the default
	assert.False(t, s.IsEnabled(features.Chat))
}
