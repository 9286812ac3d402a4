package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type countingClient struct {
	inner Client
	calls int
}

func (c *countingClient) ServiceNode(ctx context.Context, id uint64) (Node, error) {
	c.calls++
	return c.inner.ServiceNode(ctx, id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheServesWithinTTL(t *testing.T) {
	client := &countingClient{inner: &StaticClient{Nodes: map[uint64]Node{
		3: {ID: 3, Endpoint: "https://cn3.example.com", DelegateOwnerWallet: "0xabc"},
	}}}
	cache := NewCache(client, time.Minute, testLogger())

	now := time.Unix(1_700_000_000, 0)
	cache.SetNowFunc(func() time.Time { return now })

	node, err := cache.Resolve(context.Background(), 3)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if node.Endpoint != "https://cn3.example.com" {
		t.Fatalf("unexpected node %+v", node)
	}

	now = now.Add(30 * time.Second)
	if _, err := cache.Resolve(context.Background(), 3); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("client called %d times within TTL, want 1", client.calls)
	}
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	client := &countingClient{inner: &StaticClient{Nodes: map[uint64]Node{
		3: {ID: 3, Endpoint: "https://cn3.example.com"},
	}}}
	cache := NewCache(client, time.Minute, testLogger())

	now := time.Unix(1_700_000_000, 0)
	cache.SetNowFunc(func() time.Time { return now })

	if _, err := cache.Resolve(context.Background(), 3); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.Resolve(context.Background(), 3); err != nil {
		t.Fatalf("post-expiry resolve: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("client called %d times across expiry, want 2", client.calls)
	}
}

func TestCachePropagatesLookupFailure(t *testing.T) {
	cache := NewCache(&StaticClient{}, time.Minute, testLogger())
	if _, err := cache.Resolve(context.Background(), 99); err == nil {
		t.Fatal("unknown node resolved")
	}
}

func TestEndpointHelper(t *testing.T) {
	cache := NewCache(&StaticClient{Nodes: map[uint64]Node{
		7: {ID: 7, Endpoint: "https://cn7.example.com"},
	}}, time.Minute, testLogger())

	ep, err := cache.Endpoint(context.Background(), 7)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if ep != "https://cn7.example.com" {
		t.Fatalf("unexpected endpoint %q", ep)
	}
}
