package subscribe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeResolver lets a test script the sequence of status hashes a scripthash
// resolves to, mimicking query.(*Query).StatusHash without pulling in store
// or mempool.
type fakeResolver struct {
	mu   sync.Mutex
	hash map[[32]byte][32]byte
	has  map[[32]byte]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{hash: make(map[[32]byte][32]byte), has: make(map[[32]byte]bool)}
}

func (f *fakeResolver) set(sh [32]byte, h [32]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash[sh] = h
	f.has[sh] = true
}

func (f *fakeResolver) StatusHash(sh [32]byte) ([32]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash[sh], f.has[sh], nil
}

func TestSubscribeReturnsCurrentStatus(t *testing.T) {
	resolver := newFakeResolver()
	sh := [32]byte{0x01}
	want := [32]byte{0xAA}
	resolver.set(sh, want)

	m := New(resolver, nil)
	conn := m.Register("c1", 8)
	defer conn.Close()

	hash, has, err := m.Subscribe(conn, sh, 0)
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, want, hash)
}

func TestSubscribeIsIdempotentPerScripthash(t *testing.T) {
	resolver := newFakeResolver()
	m := New(resolver, nil)
	conn := m.Register("c1", 8)
	defer conn.Close()

	sh := [32]byte{0x01}
	resolver.set(sh, [32]byte{0x01})

	// Re-subscribing to a scripthash already on this connection must not
	// grow the subscription count (spec.md §4.9 scripthash_subscription_limit
	// only rejects new distinct scripthashes past the cap).
	_, _, err := m.Subscribe(conn, sh, 0)
	require.NoError(t, err)
	_, _, err = m.Subscribe(conn, sh, 0)
	require.NoError(t, err)
	require.Equal(t, 1, conn.SubscriptionCount())
}

// TestNotificationCoalescing exercises spec.md §8's subscription-coalescing
// property: under N rapid updates to the same scripthash, the subscriber
// receives at most N notifications and the final delivered status equals the
// final computed status.
func TestNotificationCoalescing(t *testing.T) {
	resolver := newFakeResolver()
	sh := [32]byte{0x02}
	resolver.set(sh, [32]byte{0x00})

	m := New(resolver, nil)
	conn := m.Register("c1", 8)
	defer conn.Close()

	_, _, err := m.Subscribe(conn, sh, 0)
	require.NoError(t, err)

	const rounds = 20
	for i := 1; i <= rounds; i++ {
		resolver.set(sh, [32]byte{byte(i)})
		m.NotifyTouched(map[[32]byte]struct{}{sh: {}})
	}

	// Give the drain goroutine a moment to coalesce bursts arriving faster
	// than it can send; the final notification observed must reflect the
	// last computed status regardless of how many were coalesced away.
	time.Sleep(20 * time.Millisecond)

	var received []Notification
	for {
		select {
		case n := <-conn.Notifications():
			received = append(received, n)
		case <-time.After(200 * time.Millisecond):
			require.NotEmpty(t, received)
			require.LessOrEqual(t, len(received), rounds)
			require.Equal(t, [32]byte{byte(rounds)}, received[len(received)-1].StatusHash)
			return
		}
	}
}

func TestUnsubscribeStopsFurtherNotifications(t *testing.T) {
	resolver := newFakeResolver()
	sh := [32]byte{0x03}
	resolver.set(sh, [32]byte{0x01})

	m := New(resolver, nil)
	conn := m.Register("c1", 8)
	defer conn.Close()

	_, _, err := m.Subscribe(conn, sh, 0)
	require.NoError(t, err)

	ok := m.Unsubscribe(conn, sh)
	require.True(t, ok)

	resolver.set(sh, [32]byte{0x02})
	m.NotifyTouched(map[[32]byte]struct{}{sh: {}})

	select {
	case n := <-conn.Notifications():
		t.Fatalf("unexpected notification after unsubscribe: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClearsSubscriptions(t *testing.T) {
	resolver := newFakeResolver()
	sh := [32]byte{0x04}
	resolver.set(sh, [32]byte{0x01})

	m := New(resolver, nil)
	conn := m.Register("c1", 8)

	_, _, err := m.Subscribe(conn, sh, 0)
	require.NoError(t, err)
	require.Equal(t, 1, conn.SubscriptionCount())

	m.Unregister("c1")

	resolver.set(sh, [32]byte{0x02})
	m.NotifyTouched(map[[32]byte]struct{}{sh: {}})

	select {
	case n := <-conn.Notifications():
		t.Fatalf("unexpected notification after unregister: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
	conn.Close()
}
