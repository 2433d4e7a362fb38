package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"farmgate/internal/model"
	"farmgate/internal/repository"
	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/features"
	"farmgate/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	RemoteDocumentKey = "/farmgate/config/features"
	// SourceRemoteDocument marks stream changes coming from the etcd document.
	SourceRemoteDocument = "remote_document"
)

var (
	ErrUnknownFeature = errors.New("unknown feature")
	ErrEtcdUnhealthy  = errors.New("etcd unhealthy")
	ErrMysqlUnhealthy = errors.New("mysql unhealthy")
	ErrUpdateConflict = errors.New("remote flag document is being updated concurrently")
)

const maxUpdateAttempts = 4

// RemoteConfigService owns the remote flag document served at /config/features.
type RemoteConfigService struct {
	repo   *repository.ConfigRepository
	audits repository.AuditInterface
	cache  *DocumentCache
	hub    *Hub

	onUpdate func()
}

func NewRemoteConfigService(repo *repository.ConfigRepository, audits repository.AuditInterface, hub *Hub) *RemoteConfigService {
	return &RemoteConfigService{
		repo:   repo,
		audits: audits,
		hub:    hub,
		cache:  NewDocumentCache(),
	}
}

// OnUpdate registers fn to run after the watch loop applies a new document.
// Once set, document changes are no longer published to the hub. It must be
// called before Run.
func (s *RemoteConfigService) OnUpdate(fn func()) {
	s.onUpdate = fn
}

// Features returns the cached remote overrides.
func (s *RemoteConfigService) Features(ctx context.Context) map[string]bool {
	return s.cache.Snapshot().Flags
}

// FetchFeatures reads the document straight from etcd, so an in-process flag
// store can use this service as its remote source.
func (s *RemoteConfigService) FetchFeatures(ctx context.Context) (map[string]bool, error) {
	doc, err := s.repo.GetDocument(ctx, RemoteDocumentKey)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Flags, nil
}

// Update overwrites the given keys in the remote document and records one
// audit row per changed key.
func (s *RemoteConfigService) Update(ctx context.Context, changes map[string]bool, operator, traceID, ip string) (*v1.FlagDocument, error) {
	normalized := make(map[string]bool, len(changes))
	for k, v := range changes {
		f, ok := features.Parse(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, k)
		}
		normalized[string(f)] = v
	}

	var (
		next   v1.FlagDocument
		audits []model.FlagAudit
	)
	for attempt := 0; ; attempt++ {
		current, err := s.repo.GetDocument(ctx, RemoteDocumentKey)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			current = &v1.FlagDocument{}
		} else if err != nil {
			logger.Error("failed to read remote flag document", zap.Error(err))
			return nil, err
		}

		next, audits = mergeDocument(current, normalized, operator, traceID, ip)
		rev, err := s.repo.CompareAndSwap(ctx, RemoteDocumentKey, next, current.Revision)
		if err == nil {
			next.Revision = rev
			break
		}
		if !errors.Is(err, repository.ErrRevisionConflict) {
			logger.Error("failed to save remote flag document", zap.Int("version", next.Version), zap.Error(err))
			return nil, err
		}
		if attempt+1 >= maxUpdateAttempts {
			logger.Warn("remote flag update lost every race", zap.String("operator", operator), zap.Int("attempts", maxUpdateAttempts))
			return nil, ErrUpdateConflict
		}
		logger.Debug("remote flag document moved, merging again", zap.Int("attempt", attempt+1))
	}
	s.cache.Update(next)

	// audit is advisory, the document in etcd is the source of truth
	if s.audits != nil {
		if err := s.audits.Create(ctx, audits); err != nil {
			logger.Warn("failed to write flag audit", zap.Int("rows", len(audits)), zap.Error(err))
		}
	}

	logger.Info("remote flags updated",
		zap.String("operator", operator),
		zap.Int("version", next.Version),
		zap.Int("changed", len(audits)))
	return &next, nil
}

// mergeDocument overlays changes on current and returns the next document
// plus one audit row per key whose value actually moved.
func mergeDocument(current *v1.FlagDocument, changes map[string]bool, operator, traceID, ip string) (v1.FlagDocument, []model.FlagAudit) {
	next := v1.FlagDocument{
		Flags:     make(map[string]bool, len(current.Flags)+len(changes)),
		Version:   current.Version + 1,
		UpdatedBy: operator,
	}
	for k, v := range current.Flags {
		next.Flags[k] = v
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var audits []model.FlagAudit
	for _, k := range keys {
		old, existed := current.Flags[k]
		next.Flags[k] = changes[k]
		if existed && old == changes[k] {
			continue
		}
		audits = append(audits, model.FlagAudit{
			Key:      k,
			OldValue: old,
			NewValue: changes[k],
			Version:  next.Version,
			Operator: operator,
			TraceID:  traceID,
			IP:       ip,
		})
	}
	return next, audits
}

func (s *RemoteConfigService) Audits(ctx context.Context, key string, offset, limit int) ([]model.FlagAudit, int64, error) {
	if key != "" {
		rows, err := s.audits.ListByKey(ctx, key)
		return rows, int64(len(rows)), err
	}
	return s.audits.List(ctx, offset, limit)
}

func (s *RemoteConfigService) Health(ctx context.Context) error {
	if s.repo.Health(ctx) != nil {
		return ErrEtcdUnhealthy
	}
	if s.audits != nil && s.audits.PingContext(ctx) != nil {
		return ErrMysqlUnhealthy
	}
	return nil
}

// Run primes the cache from etcd and keeps it fresh until ctx is done.
func (s *RemoteConfigService) Run(ctx context.Context) {
	resp, err := s.repo.GetWithRevision(ctx, RemoteDocumentKey)
	if err != nil {
		logger.Error("failed to get initial remote flags", zap.Error(err))
		return
	}
	// watch from the snapshot revision so nothing slips between Get and Watch
	rev0 := resp.Header.Revision
	if len(resp.Kvs) > 0 {
		s.apply(resp.Kvs[0].Value, resp.Kvs[0].ModRevision)
	}
	logger.Info("remote flag cache initialized", zap.Int64("rev", rev0))

	watchChan := s.repo.WatchFrom(ctx, RemoteDocumentKey, rev0+1)
	for {
		select {
		case <-ctx.Done():
			return
		case wresp, ok := <-watchChan:
			if !ok {
				return
			}
			if wresp.Canceled {
				logger.Warn("remote flag watch canceled", zap.Error(wresp.Err()))
				return
			}
			for _, ev := range wresp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					s.cache.Clear(ev.Kv.ModRevision)
					logger.Warn("remote flag document deleted", zap.Int64("rev", ev.Kv.ModRevision))
					continue
				}
				s.apply(ev.Kv.Value, ev.Kv.ModRevision)
			}
		}
	}
}

func (s *RemoteConfigService) apply(raw []byte, rev int64) {
	var doc v1.FlagDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Error("failed to unmarshal remote flag document", zap.ByteString("raw_value", raw), zap.Error(err))
		return
	}
	doc.Revision = rev
	prev := s.cache.Snapshot()
	if !s.cache.Update(doc) {
		return
	}
	if s.onUpdate != nil {
		// the follower publishes the changes that reach its flags
		s.onUpdate()
		return
	}
	if s.hub == nil {
		return
	}
	for _, f := range features.All {
		v, ok := doc.Flags[string(f)]
		if !ok || prev.Flags[string(f)] == v {
			continue
		}
		s.hub.Publish(context.Background(), v1.Change{Key: string(f), Enabled: v, Source: SourceRemoteDocument})
	}
}
