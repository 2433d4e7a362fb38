package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func init() {
	logger.InitLogger("test")
}

// MockKV partially implements clientv3.KV on top of a map.
type MockKV struct {
	clientv3.KV
	data    map[string][]byte
	rev     int64
	getErr  error
	commits int
}

func newMockKV() *MockKV {
	return &MockKV{data: make(map[string][]byte)}
}

func (m *MockKV) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	resp := &clientv3.GetResponse{Header: &pb.ResponseHeader{Revision: m.rev}}
	if v, ok := m.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: v, ModRevision: m.rev}}
	}
	return resp, nil
}

func (m *MockKV) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.rev++
	m.data[key] = []byte(val)
	return &clientv3.PutResponse{Header: &pb.ResponseHeader{Revision: m.rev}}, nil
}

func (m *MockKV) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	m.rev++
	delete(m.data, key)
	return &clientv3.DeleteResponse{Header: &pb.ResponseHeader{Revision: m.rev}}, nil
}

func (m *MockKV) Txn(ctx context.Context) clientv3.Txn {
	return &mockTxn{kv: m}
}

type mockTxn struct {
	kv   *MockKV
	cmps []clientv3.Cmp
	ops  []clientv3.Op
}

func (t *mockTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	t.cmps = cs
	return t
}

func (t *mockTxn) Else(ops ...clientv3.Op) clientv3.Txn { return t }
func (t *mockTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.ops = ops
	return t
}

func (t *mockTxn) Commit() (*clientv3.TxnResponse, error) {
	t.kv.commits++
	if !compareHolds(t.cmps, t.kv.data, t.kv.rev) {
		return &clientv3.TxnResponse{Succeeded: false, Header: &pb.ResponseHeader{Revision: t.kv.rev}}, nil
	}
	for _, op := range t.ops {
		t.kv.rev++
		t.kv.data[string(op.KeyBytes())] = op.ValueBytes()
	}
	return &clientv3.TxnResponse{Succeeded: true, Header: &pb.ResponseHeader{Revision: t.kv.rev}}, nil
}

// compareHolds evaluates the revision guards used by CompareAndSwap. Every
// stored key reports the store revision as its ModRevision.
func compareHolds(cmps []clientv3.Cmp, data map[string][]byte, rev int64) bool {
	for _, c := range cmps {
		_, exists := data[string(c.KeyBytes())]
		switch u := c.TargetUnion.(type) {
		case *pb.Compare_ModRevision:
			if !exists || u.ModRevision != rev {
				return false
			}
		case *pb.Compare_CreateRevision:
			if exists != (u.CreateRevision != 0) {
				return false
			}
		}
	}
	return true
}

type MockEtcdInterface struct {
	*MockKV
	clientv3.Watcher
}

func (m *MockEtcdInterface) Close() error { return nil }

const docKey = "/farmgate/config/features"

func TestConfigRepository_SaveAndGet(t *testing.T) {
	kv := newMockKV()
	repo := NewConfigRepository(&MockEtcdInterface{MockKV: kv})

	_, err := repo.GetDocument(context.Background(), docKey)
	require.ErrorIs(t, err, ErrDocumentNotFound)

	rev, err := repo.CompareAndSwap(context.Background(), docKey, v1.FlagDocument{
		Flags:   map[string]bool{"CHAT": true},
		Version: 1,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	doc, err := repo.GetDocument(context.Background(), docKey)
	require.NoError(t, err)
	assert.True(t, doc.Flags["CHAT"])
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, int64(1), doc.Revision)
}

func TestConfigRepository_CompareAndSwap_CreateOnlyOnce(t *testing.T) {
	kv := newMockKV()
	repo := NewConfigRepository(&MockEtcdInterface{MockKV: kv})
	ctx := context.Background()

	_, err := repo.CompareAndSwap(ctx, docKey, v1.FlagDocument{Flags: map[string]bool{"CHAT": true}, Version: 1}, 0)
	require.NoError(t, err)

	// a second creator read the key before it existed
	_, err = repo.CompareAndSwap(ctx, docKey, v1.FlagDocument{Flags: map[string]bool{"MAPS": true}, Version: 1}, 0)
	require.ErrorIs(t, err, ErrRevisionConflict)

	doc, err := repo.GetDocument(ctx, docKey)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"CHAT": true}, doc.Flags)
}

func TestConfigRepository_CompareAndSwap_StaleRevision(t *testing.T) {
	kv := newMockKV()
	repo := NewConfigRepository(&MockEtcdInterface{MockKV: kv})
	ctx := context.Background()

	b, _ := json.Marshal(v1.FlagDocument{Flags: map[string]bool{"CHAT": true}, Version: 5})
	kv.data[docKey] = b
	kv.rev = 9

	_, err := repo.CompareAndSwap(ctx, docKey, v1.FlagDocument{Flags: map[string]bool{"CHAT": false}, Version: 6}, 8)
	require.ErrorIs(t, err, ErrRevisionConflict)
	assert.Equal(t, 1, kv.commits)

	doc, err := repo.GetDocument(ctx, docKey)
	require.NoError(t, err)
	assert.True(t, doc.Flags["CHAT"])

	rev, err := repo.CompareAndSwap(ctx, docKey, v1.FlagDocument{Flags: map[string]bool{"CHAT": false}, Version: 6}, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rev)
}

func TestConfigRepository_Health(t *testing.T) {
	kv := newMockKV()
	kv.getErr = errors.New("etcd fatal error")
	repo := NewConfigRepository(&MockEtcdInterface{MockKV: kv})

	assert.Error(t, repo.Health(context.Background()))
}

func TestEtcdKV(t *testing.T) {
	kv := newMockKV()
	store := NewEtcdKV(kv)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "featureFlags")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "featureFlags", `{"AUTH":true}`))
	assert.Contains(t, kv.data, EtcdKVPrefix+"featureFlags")

	v, ok, err := store.Get(ctx, "featureFlags")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"AUTH":true}`, v)

	require.NoError(t, store.Remove(ctx, "featureFlags"))
	_, ok, _ = store.Get(ctx, "featureFlags")
	assert.False(t, ok)
}
