package sandbox

import (
	"testing"
	"time"
)

type fakeWsConn struct{ closed bool }

func (c *fakeWsConn) Close() error {
	c.closed = true
	return nil
}

func TestWsConnectionPoolGetPut(t *testing.T) {
	pool := NewWsConnectionPool()
	conn := &fakeWsConn{}
	pool.Put("session-1", &PooledWsEntry{Conn: conn, URL: "wss://example.com", LastUsed: time.Now()})

	entry, ok := pool.Get("session-1")
	if !ok || entry.Conn != conn {
		t.Fatal("expected to retrieve the entry just inserted")
	}
	if _, ok := pool.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestWsConnectionPoolIdleEviction(t *testing.T) {
	pool := NewWsConnectionPoolWithTTL(10 * time.Millisecond)
	conn := &fakeWsConn{}
	pool.Put("k", &PooledWsEntry{Conn: conn, LastUsed: time.Now().Add(-time.Hour)})

	if _, ok := pool.Get("k"); ok {
		t.Error("expected expired entry to be evicted")
	}
	if !conn.closed {
		t.Error("expected evicted connection to be closed")
	}
}

func TestWsConnectionPoolLRUEviction(t *testing.T) {
	pool := NewWsConnectionPool()
	pool.maxSize = 2

	a, b, c := &fakeWsConn{}, &fakeWsConn{}, &fakeWsConn{}
	pool.Put("a", &PooledWsEntry{Conn: a, LastUsed: time.Now()})
	pool.Put("b", &PooledWsEntry{Conn: b, LastUsed: time.Now()})
	pool.Put("c", &PooledWsEntry{Conn: c, LastUsed: time.Now()})

	if pool.Len() != 2 {
		t.Fatalf("expected pool capped at 2, got %d", pool.Len())
	}
	if !a.closed {
		t.Error("expected least-recently-used entry 'a' to be evicted and closed")
	}
	if _, ok := pool.Get("b"); !ok {
		t.Error("expected 'b' to survive eviction")
	}
	if _, ok := pool.Get("c"); !ok {
		t.Error("expected 'c' to survive eviction")
	}
}
