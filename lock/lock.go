/*
Package lock serialises workflows that touch the same room, tenant or bill.

PURPOSE:
  Occupancy and billing read counts and then write. Two staff members
  assigning tenants to the same room must not both see "0 occupants". The
  workflows take a lock on every key they touch before reading, and keep it
  until their transaction commits.

IMPLEMENTATIONS:
  Local  In-process keyed mutexes (single server, tests)
  Redis  SET NX PX with a random token, released by compare-and-delete
         (several servers sharing one database)

DEADLOCK AVOIDANCE:
  Lock sorts and de-duplicates keys, so two callers asking for
  {room:a, room:b} and {room:b, room:a} acquire in the same order.

SEE ALSO:
  - occupancy/manager.go: room + tenant keys
  - billing/engine.go: bill keys
  - repairs/repairs.go: repair keys
*/
package lock

import (
	"context"
	"sort"
	"sync"
)

// Unlock releases every key acquired by one Lock call.
type Unlock func()

// Locker acquires a set of keys atomically with respect to other callers.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

// RoomKey is the lock key of a room.
func RoomKey(roomID string) string { return "room:" + roomID }

// TenantKey is the lock key of a tenant.
func TenantKey(tenantID string) string { return "tenant:" + tenantID }

// RepairKey is the lock key of a repair ticket.
func RepairKey(repairID string) string { return "repair:" + repairID }

// BillKey is the lock key of a room's bill for a month (YYYY-MM).
func BillKey(roomID, month string) string { return "bill:" + roomID + ":" + month }

// normalizeKeys sorts and removes duplicates and empties.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// LOCAL LOCKER
// =============================================================================

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Locker. The zero value is not usable; use NewLocal.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until every key is held or ctx is done.
func (l *Local) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.acquire(ctx, k); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *Local) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		s := l.slots[keys[i]]
		<-s.ch
		s.refs--
		if s.refs == 0 {
			delete(l.slots, keys[i])
		}
	}
}

// Nop never blocks. Useful when a single goroutine owns the store.
type Nop struct{}

func (Nop) Lock(context.Context, ...string) (Unlock, error) { return func() {}, nil }

var (
	_ Locker = (*Local)(nil)
	_ Locker = Nop{}
)
