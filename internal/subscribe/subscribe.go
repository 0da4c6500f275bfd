// Package subscribe implements spec.md §4.9: per-connection subscription
// sets and the debounced notification engine that recomputes and compares
// status hashes after every indexer commit and mempool diff, ported from
// original_source/src/rpc.rs's on_scripthash_change/notify_scripthash_subscriptions
// (there driven by a channel of Notification enum values; here by the
// Indexer.OnCommit and mempool.Tracker.OnDiff hooks calling into a shared
// affected-scripthash pipeline instead).
package subscribe

import (
	"sync"

	"github.com/BitcoinUnlimited/electrscash/internal/cache"
	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
)

// StatusResolver computes the current status hash of a scripthash, matching
// query.(*Query).StatusHash's signature so *query.Query satisfies it without
// this package importing query (which would import store/mempool/chain and
// create a needless dependency edge).
type StatusResolver interface {
	StatusHash(scripthash [32]byte) (hash [32]byte, has bool, err error)
}

// Notification is one coalesced status update destined for a connection.
type Notification struct {
	ScriptHash [32]byte
	StatusHash [32]byte
	HasStatus  bool // false means the scripthash has no history (null status)
}

// Manager owns the full set of live connections and the reverse index used
// to compute, for a set of touched scripthashes, which connections care.
type Manager struct {
	mu          sync.RWMutex
	conns       map[string]*Connection
	byScript    map[[32]byte]map[string]struct{}
	resolver    StatusResolver
	statusCache *cache.StatusHashCache
}

// New builds a Manager. statusCache may be nil; when set, freshly computed
// status hashes are also written there. The Manager itself never reads from
// it: Subscribe and NotifyTouched always recompute through the resolver.
func New(resolver StatusResolver, statusCache *cache.StatusHashCache) *Manager {
	return &Manager{
		conns:       make(map[string]*Connection),
		byScript:    make(map[[32]byte]map[string]struct{}),
		resolver:    resolver,
		statusCache: statusCache,
	}
}

// Register creates a Connection for connID and inserts it into the manager.
// outboundCapacity is normally config.RPCBufferSize.
func (m *Manager) Register(connID string, outboundCapacity int) *Connection {
	c := &Connection{
		id:      connID,
		subs:    make(map[[32]byte]struct{}),
		queue:   newNotifQueue(outboundCapacity),
		manager: m,
	}
	m.mu.Lock()
	m.conns[connID] = c
	m.mu.Unlock()
	return c
}

// Unregister removes a connection and all of its subscriptions, per
// spec.md §4.9's connection-close unsubscription rule.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	for sh := range c.subs {
		if set, ok := m.byScript[sh]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.byScript, sh)
			}
		}
		metrics.SubscriptionsActive.Dec()
	}
	m.mu.Unlock()
}

// Subscribe adds sh to conn's subscription set, enforcing
// scripthash_subscription_limit and scripthash_alias_bytes_limit. aliasBytes
// is the number of address bytes this subscription consumes (0 for a raw
// scripthash subscription; len(address) for an address-form subscription).
// Returns the current status so the caller can send the immediate reply the
// Electrum protocol requires alongside the subscription registration.
func (m *Manager) Subscribe(conn *Connection, sh [32]byte, aliasBytes int) (hash [32]byte, has bool, err error) {
	conn.mu.Lock()
	if _, already := conn.subs[sh]; !already {
		if len(conn.subs) >= config.ScripthashSubscriptionLimit {
			conn.mu.Unlock()
			return [32]byte{}, false, errs.New(errs.KindRateLimited, "scripthash_subscription_limit exceeded", nil)
		}
		if aliasBytes > 0 && conn.aliasBytes+int64(aliasBytes) > int64(config.ScripthashAliasBytesLimit) {
			conn.mu.Unlock()
			return [32]byte{}, false, errs.New(errs.KindRateLimited, "scripthash_alias_bytes_limit exceeded", nil)
		}
		conn.subs[sh] = struct{}{}
		conn.aliasBytes += int64(aliasBytes)
		metrics.SubscriptionsActive.Inc()
	}
	conn.mu.Unlock()

	m.mu.Lock()
	set, ok := m.byScript[sh]
	if !ok {
		set = make(map[string]struct{})
		m.byScript[sh] = set
	}
	set[conn.id] = struct{}{}
	m.mu.Unlock()

	hash, has, err = m.resolver.StatusHash(sh)
	if err != nil {
		return [32]byte{}, false, err
	}
	conn.recordDelivered(sh, hash, has)
	if m.statusCache != nil {
		m.statusCache.Put(sh, cache.StatusEntry{StatusHash: hash})
	}
	return hash, has, nil
}

// Unsubscribe removes sh from conn's subscription set. Returns true if a
// subscription existed and was removed.
func (m *Manager) Unsubscribe(conn *Connection, sh [32]byte) bool {
	conn.mu.Lock()
	_, existed := conn.subs[sh]
	if existed {
		delete(conn.subs, sh)
	}
	conn.mu.Unlock()
	if !existed {
		return false
	}
	metrics.SubscriptionsActive.Dec()

	m.mu.Lock()
	if set, ok := m.byScript[sh]; ok {
		delete(set, conn.id)
		if len(set) == 0 {
			delete(m.byScript, sh)
		}
	}
	m.mu.Unlock()
	return true
}

// NotifyTouched recomputes and fans out status changes for every scripthash
// in touched. Called from the Indexer.OnCommit hook (touched = every
// scripthash referenced by the committed block's funding/spending rows) and
// from the Tracker.OnDiff hook (touched = scripthashes of added/removed
// mempool entries), matching spec.md §4.9's "union of scripthashes touched
// by added/removed funding/spending rows and mempool entries".
func (m *Manager) NotifyTouched(touched map[[32]byte]struct{}) {
	for sh := range touched {
		m.mu.RLock()
		set, ok := m.byScript[sh]
		var connIDs []string
		if ok {
			connIDs = make([]string, 0, len(set))
			for id := range set {
				connIDs = append(connIDs, id)
			}
		}
		m.mu.RUnlock()
		if len(connIDs) == 0 {
			continue
		}

		hash, has, err := m.resolver.StatusHash(sh)
		if err != nil {
			logging.L.Warn().Err(err).Msg("subscribe: status hash recompute failed")
			continue
		}
		if m.statusCache != nil {
			m.statusCache.Put(sh, cache.StatusEntry{StatusHash: hash})
		}

		m.mu.RLock()
		for _, id := range connIDs {
			if c, ok := m.conns[id]; ok {
				c.maybeNotify(sh, hash, has)
			}
		}
		m.mu.RUnlock()
	}
}

// Connection is one RPC connection's subscription state and outbound
// notification queue.
type Connection struct {
	id      string
	manager *Manager

	mu         sync.Mutex
	subs       map[[32]byte]struct{}
	delivered  map[[32]byte]statusRecord
	aliasBytes int64

	queue *notifQueue
}

type statusRecord struct {
	hash [32]byte
	has  bool
}

func (c *Connection) recordDelivered(sh [32]byte, hash [32]byte, has bool) {
	c.mu.Lock()
	if c.delivered == nil {
		c.delivered = make(map[[32]byte]statusRecord)
	}
	c.delivered[sh] = statusRecord{hash: hash, has: has}
	c.mu.Unlock()
}

// maybeNotify enqueues a notification only if hash/has differs from what
// was last delivered (or queued) for sh, and only if conn is still
// subscribed to it.
func (c *Connection) maybeNotify(sh [32]byte, hash [32]byte, has bool) {
	c.mu.Lock()
	if _, subscribed := c.subs[sh]; !subscribed {
		c.mu.Unlock()
		return
	}
	last, seen := c.delivered[sh]
	if seen && last.hash == hash && last.has == has {
		c.mu.Unlock()
		return
	}
	if c.delivered == nil {
		c.delivered = make(map[[32]byte]statusRecord)
	}
	c.delivered[sh] = statusRecord{hash: hash, has: has}
	c.mu.Unlock()

	c.queue.push(Notification{ScriptHash: sh, StatusHash: hash, HasStatus: has})
}

// Notifications returns the channel a connection's writer goroutine should
// range over to drain coalesced notifications in FIFO order.
func (c *Connection) Notifications() <-chan Notification { return c.queue.out }

// Close stops the connection's drain goroutine; notifications pushed after
// Close are dropped.
func (c *Connection) Close() { c.queue.close() }

// SubscriptionCount reports how many scripthashes conn currently subscribes
// to.
func (c *Connection) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
