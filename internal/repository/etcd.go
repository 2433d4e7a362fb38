package repository

import (
	"context"
	"encoding/json"
	"errors"
	v1 "farmgate/pkg/api/v1"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	ErrDocumentNotFound = errors.New("flag document not found")
	ErrRevisionConflict = errors.New("flag document changed since it was read")
)

const EtcdKVPrefix = "/farmgate/kv/"

type EtcdInterface interface {
	clientv3.KV
	clientv3.Watcher
	Close() error
}

// ConfigRepository stores the remote flag document in etcd.
type ConfigRepository struct {
	client EtcdInterface
}

func NewConfigRepository(client EtcdInterface) *ConfigRepository {
	return &ConfigRepository{
		client: client,
	}
}

// GetDocument reads and decodes the document stored at key.
func (r *ConfigRepository) GetDocument(ctx context.Context, key string) (*v1.FlagDocument, error) {
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrDocumentNotFound
	}
	kv := resp.Kvs[0]
	var doc v1.FlagDocument
	if err := json.Unmarshal(kv.Value, &doc); err != nil {
		return nil, err
	}
	doc.Revision = kv.ModRevision
	return &doc, nil
}

// CompareAndSwap writes doc only if the key still sits at readRev, the
// ModRevision the caller read it at. A readRev of 0 means the key must not
// exist yet. A lost race returns ErrRevisionConflict and writes nothing.
func (r *ConfigRepository) CompareAndSwap(ctx context.Context, key string, doc v1.FlagDocument, readRev int64) (int64, error) {
	cmp := clientv3.Compare(clientv3.ModRevision(key), "=", readRev)
	if readRev == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	}
	tResp, err := r.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, doc.ToJSON())).Commit()
	if err != nil {
		return 0, err
	}
	if !tResp.Succeeded {
		return 0, ErrRevisionConflict
	}
	return tResp.Header.Revision, nil
}

func (r *ConfigRepository) GetWithRevision(ctx context.Context, key string) (*clientv3.GetResponse, error) {
	return r.client.Get(ctx, key)
}

func (r *ConfigRepository) WatchFrom(ctx context.Context, key string, startRev int64) clientv3.WatchChan {
	return r.client.Watch(ctx, key, clientv3.WithRev(startRev))
}

func (r *ConfigRepository) Health(ctx context.Context) error {
	_, err := r.client.Get(ctx, "health_check")
	return err
}

// EtcdKV is the etcd flavour of the persisted key-value store.
type EtcdKV struct {
	client clientv3.KV
	prefix string
}

func NewEtcdKV(client clientv3.KV) *EtcdKV {
	return &EtcdKV{client: client, prefix: EtcdKVPrefix}
}

func (r *EtcdKV) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := r.client.Get(ctx, r.prefix+key)
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (r *EtcdKV) Set(ctx context.Context, key, value string) error {
	_, err := r.client.Put(ctx, r.prefix+key, value)
	return err
}

func (r *EtcdKV) Remove(ctx context.Context, key string) error {
	_, err := r.client.Delete(ctx, r.prefix+key)
	return err
}
