// Package subscription owns the lifecycle of change-feed connections. One
// Redis pub/sub connection is held per (entity type, scope) pair and shared
// by every view subscribed to that scope, reference-counted so the last
// close tears the connection down.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

var errUnknownEntity = errors.New("unknown entity type")

// Key identifies one logical feed.
type Key struct {
	Entity domain.EntityType
	Scope  string
}

// Subscriber receives feed callbacks. OnEvent is invoked in emission order
// from a single goroutine per feed, never concurrently for one scope. It
// must not block; a stalled callback holds up every subscriber of the feed.
// OnReconnect signals that the underlying connection dropped and has been
// re-established; events emitted during the outage are lost, so the consumer
// must re-seed its store via the bulk loader before trusting it again.
type Subscriber struct {
	OnEvent     func(domain.ChangeEvent)
	OnReconnect func()
}

// Handle represents one open subscription. It is returned by Open and
// redeemed by Close.
type Handle struct {
	key    Key
	feed   *feed
	closed bool
}

// Key returns the (entity, scope) pair the handle is subscribed to.
func (h *Handle) Key() Key { return h.key }

// Manager multiplexes change-feed subscriptions over Redis pub/sub. It is
// safe for concurrent use; construct one per process and inject it so tests
// can run independent managers side by side.
type Manager struct {
	rc         *redis.Client
	log        *log.Logger
	metrics    *Metrics
	retryDelay time.Duration

	mu    sync.Mutex
	feeds map[Key]*feed
}

// NewManager creates a Manager on the given Redis client. metrics may be nil.
func NewManager(rc *redis.Client, logger *log.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		rc:         rc,
		log:        logger,
		metrics:    metrics,
		retryDelay: time.Second,
		feeds:      make(map[Key]*feed),
	}
}

// Open subscribes to the change feed for (entity, scope). When a feed for
// that exact pair is already open the existing connection is shared and its
// reference count incremented; otherwise a new pub/sub connection is
// established before Open returns, so no event emitted after Open is missed.
func (m *Manager) Open(entity domain.EntityType, scope string, sub Subscriber) (*Handle, error) {
	if !entity.Known() {
		return nil, errUnknownEntity
	}
	key := Key{Entity: entity, Scope: scope}
	h := &Handle{key: key}

	m.mu.Lock()
	if f, ok := m.feeds[key]; ok {
		f.addSubscriber(h, sub)
		h.feed = f
		m.mu.Unlock()
		return h, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{
		key:    key,
		mgr:    m,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[*Handle]Subscriber),
	}
	ps, err := f.subscribe()
	if err != nil {
		cancel()
		m.mu.Unlock()
		return nil, err
	}
	f.addSubscriber(h, sub)
	h.feed = f
	m.feeds[key] = f
	m.mu.Unlock()

	go f.run(ps)
	return h, nil
}

// Close releases the handle. The underlying connection is torn down
// synchronously once the last handle for its (entity, scope) is closed.
// Close is idempotent.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if h.closed || h.feed == nil {
		m.mu.Unlock()
		return
	}
	h.closed = true
	f := h.feed
	last := f.removeSubscriber(h)
	if last {
		delete(m.feeds, f.key)
	}
	m.mu.Unlock()

	if last {
		f.shutdown()
	}
}

// feedCount reports the number of live underlying connections, for tests.
func (m *Manager) feedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

type feed struct {
	key    Key
	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	ps   *redis.PubSub
	subs map[*Handle]Subscriber
}

// subscribe opens the pub/sub connection and waits for the subscription
// confirmation so events published after Open returns are guaranteed to
// arrive.
func (f *feed) subscribe() (*redis.PubSub, error) {
	ps := f.mgr.rc.Subscribe(f.ctx, domain.ChannelFor(f.key.Entity))
	if _, err := ps.Receive(f.ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	f.mu.Lock()
	f.ps = ps
	f.mu.Unlock()
	return ps, nil
}

func (f *feed) addSubscriber(h *Handle, sub Subscriber) {
	f.mu.Lock()
	f.subs[h] = sub
	f.mu.Unlock()
}

func (f *feed) removeSubscriber(h *Handle) (last bool) {
	f.mu.Lock()
	delete(f.subs, h)
	last = len(f.subs) == 0
	f.mu.Unlock()
	return last
}

func (f *feed) shutdown() {
	f.cancel()
	f.mu.Lock()
	if f.ps != nil {
		_ = f.ps.Close()
	}
	f.mu.Unlock()
	<-f.done
}

func (f *feed) run(ps *redis.PubSub) {
	defer close(f.done)
	for {
		ch := ps.Channel()
		for msg := range ch {
			f.deliver(msg.Payload)
		}
		_ = ps.Close()
		if f.ctx.Err() != nil {
			return
		}
		f.mgr.log.WithFields(log.Fields{
			"entity": f.key.Entity,
			"scope":  f.key.Scope,
		}).Error("change feed connection lost, resubscribing")
		var err error
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(f.mgr.retryDelay):
			}
			if ps, err = f.subscribe(); err == nil {
				break
			}
			if f.ctx.Err() != nil {
				return
			}
			f.mgr.log.WithError(err).WithField("entity", f.key.Entity).Error("resubscribe failed")
		}
		f.mgr.metrics.recordReconnect(string(f.key.Entity))
		// The feed is live again; tell subscribers to re-seed now so the
		// bulk fetch overlaps delivery rather than preceding another gap.
		f.notifyReconnect()
	}
}

func (f *feed) notifyReconnect() {
	for _, sub := range f.subscribers() {
		if sub.OnReconnect != nil {
			sub.OnReconnect()
		}
	}
}

func (f *feed) subscribers() []Subscriber {
	f.mu.Lock()
	out := make([]Subscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		out = append(out, sub)
	}
	f.mu.Unlock()
	return out
}

func (f *feed) deliver(payload string) {
	entity := string(f.key.Entity)
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		f.mgr.metrics.recordDropped(entity, "malformed")
		f.mgr.log.WithError(err).WithField("entity", entity).Error("unable to parse change event")
		return
	}
	if ev.EntityType != f.key.Entity {
		f.mgr.metrics.recordDropped(entity, "entity_mismatch")
		return
	}
	if err := ev.Validate(); err != nil {
		f.mgr.metrics.recordDropped(entity, "invalid")
		f.mgr.log.WithError(err).WithField("entity", entity).Error("invalid change event")
		return
	}
	// Cross-tenant guard: a mis-scoped feed must never leak records into a
	// store for another owner. Dropped silently per the error policy.
	if f.key.Scope != "" && ev.OwnerID != "" && ev.OwnerID != f.key.Scope {
		f.mgr.metrics.recordDropped(entity, "scope_mismatch")
		return
	}
	for _, sub := range f.subscribers() {
		if sub.OnEvent != nil {
			sub.OnEvent(ev)
		}
	}
	f.mgr.metrics.recordDelivered(entity)
}
