package service

import (
	"context"
	"sync"
	"testing"
	"time"

	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

type MockObserver struct{}

func (m *MockObserver) IncOnline()  {}
func (m *MockObserver) DecOnline()  {}
func (m *MockObserver) RecordPush() {}

func TestHub_Concurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, 0)
	go hub.Run(ctx)

	var wg sync.WaitGroup
	clientCount := 50
	msgCount := 200

	clients := make([]*Client, clientCount)

	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := &Client{Send: make(chan v1.Change, 50)}
			clients[idx] = c
			hub.Subscribe(c)
		}(i)
	}
	wg.Wait()

	broadcastDone := make(chan struct{})

	go func() {
		for i := 0; i < msgCount; i++ {
			hub.Publish(ctx, v1.Change{Key: "CHAT", Enabled: i%2 == 0})
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		close(broadcastDone)
	}()

	// churn
	go func() {
		for i := 0; i < clientCount/2; i++ {
			time.Sleep(2 * time.Millisecond)
			hub.Unsubscribe(clients[i])
		}
	}()

	var readWg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		readWg.Add(1)
		go func(c *Client) {
			defer readWg.Done()
			timeout := time.After(3 * time.Second)
			for {
				select {
				case _, ok := <-c.Send:
					if !ok {
						return
					}
				case <-broadcastDone:
					for {
						select {
						case _, ok := <-c.Send:
							if !ok {
								return
							}
						default:
							return
						}
					}
				case <-timeout:
					return
				}
			}
		}(clients[i])
	}

	readWg.Wait()
}

func TestHub_PublishStampsRevisions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, 0)
	go hub.Run(ctx)

	c := &Client{Send: make(chan v1.Change, 4)}
	require.True(t, hub.Subscribe(c))

	hub.Publish(ctx, v1.Change{Key: "CHAT", Enabled: true})
	hub.Publish(ctx, v1.Change{Key: "MAPS", Enabled: true})

	first := <-c.Send
	second := <-c.Send
	assert.Equal(t, "CHAT", first.Key)
	assert.Less(t, first.Revision, second.Revision)
}

func TestHub_Heartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, 10*time.Millisecond)
	go hub.Run(ctx)

	c := &Client{Send: make(chan v1.Change, 4)}
	require.True(t, hub.Subscribe(c))

	select {
	case msg := <-c.Send:
		assert.Equal(t, TypePing, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(&MockObserver{}, 0)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	c := &Client{Send: make(chan v1.Change, 1)}
	require.True(t, hub.Subscribe(c))
	cancel()
	<-stopped

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.False(t, hub.Subscribe(&Client{Send: make(chan v1.Change)}))
	// must not block after stop
	hub.Publish(context.Background(), v1.Change{Key: "CHAT"})
}

func TestHub_HistoryForReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(&MockObserver{}, 0)
	go hub.Run(ctx)

	c := &Client{Send: make(chan v1.Change, 4)}
	require.True(t, hub.Subscribe(c))
	for _, k := range []string{"CHAT", "MAPS", "PAYMENTS"} {
		hub.Publish(ctx, v1.Change{Key: k, Enabled: true})
	}
	for i := 0; i < 3; i++ {
		<-c.Send
	}

	missed, ok := hub.Since(1)
	require.True(t, ok)
	require.Len(t, missed, 2)
	assert.Equal(t, "MAPS", missed[0].Key)
	assert.Equal(t, "PAYMENTS", missed[1].Key)
	assert.Equal(t, int64(3), hub.Revision())
}
