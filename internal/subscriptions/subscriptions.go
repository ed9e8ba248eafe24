// Package subscriptions implements the subscription registry (§4.9): three
// independent fan-out dimensions per session — advertisements (global),
// scanner-state (global), and connection/notify events for one peripheral
// address — with atomic removal of a closed session from all of them. The
// insertion-ordered membership (wk8/go-ordered-map) mirrors the teacher's
// use of the same library for deterministic iteration order, here applied
// to subscriber fan-out instead of per-characteristic capture buffers.
package subscriptions

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleproxy/internal/ids"
)

// Registry tracks which sessions are subscribed to which event streams.
type Registry struct {
	mu sync.Mutex

	ads          *orderedmap.OrderedMap[ids.SessionID, uint32]
	scannerState *orderedmap.OrderedMap[ids.SessionID, struct{}]
	byAddress    map[uint64]*orderedmap.OrderedMap[ids.SessionID, struct{}]
	byIDAddrs    map[ids.SessionID]map[uint64]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		ads:          orderedmap.New[ids.SessionID, uint32](),
		scannerState: orderedmap.New[ids.SessionID, struct{}](),
		byAddress:    make(map[uint64]*orderedmap.OrderedMap[ids.SessionID, struct{}]),
		byIDAddrs:    make(map[ids.SessionID]map[uint64]struct{}),
	}
}

// SubscribeAds registers id for the global advertisement stream with the
// given feature flags (re-subscribing replaces the flags).
func (r *Registry) SubscribeAds(id ids.SessionID, flags uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads.Set(id, flags)
}

// UnsubscribeAds removes id from the advertisement stream.
func (r *Registry) UnsubscribeAds(id ids.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads.Delete(id)
}

// AdEvent is one ads-subscriber entry returned by a fan-out snapshot.
type AdEvent struct {
	Session ids.SessionID
	Flags   uint32
}

// AdsSubscribers snapshots current subscribers in subscription order, so
// callers can fan out without holding the registry lock.
func (r *Registry) AdsSubscribers() []AdEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AdEvent, 0, r.ads.Len())
	for pair := r.ads.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, AdEvent{Session: pair.Key, Flags: pair.Value})
	}
	return out
}

// SubscribeScannerState registers id for scanner-state change events.
func (r *Registry) SubscribeScannerState(id ids.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scannerState.Set(id, struct{}{})
}

// UnsubscribeScannerState removes id from scanner-state events.
func (r *Registry) UnsubscribeScannerState(id ids.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scannerState.Delete(id)
}

// ScannerStateSubscribers snapshots current scanner-state subscribers.
func (r *Registry) ScannerStateSubscribers() []ids.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ids.SessionID, 0, r.scannerState.Len())
	for pair := r.scannerState.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// SubscribeAddress registers id for connection-state and notification
// events on address.
func (r *Registry) SubscribeAddress(id ids.SessionID, address uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	om, ok := r.byAddress[address]
	if !ok {
		om = orderedmap.New[ids.SessionID, struct{}]()
		r.byAddress[address] = om
	}
	om.Set(id, struct{}{})

	addrs, ok := r.byIDAddrs[id]
	if !ok {
		addrs = make(map[uint64]struct{})
		r.byIDAddrs[id] = addrs
	}
	addrs[address] = struct{}{}
}

// UnsubscribeAddress removes id from address's event stream.
func (r *Registry) UnsubscribeAddress(id ids.SessionID, address uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeAddressLocked(id, address)
}

func (r *Registry) unsubscribeAddressLocked(id ids.SessionID, address uint64) {
	if om, ok := r.byAddress[address]; ok {
		om.Delete(id)
		if om.Len() == 0 {
			delete(r.byAddress, address)
		}
	}
	if addrs, ok := r.byIDAddrs[id]; ok {
		delete(addrs, address)
		if len(addrs) == 0 {
			delete(r.byIDAddrs, id)
		}
	}
}

// AddressSubscribers snapshots current subscribers for address.
func (r *Registry) AddressSubscribers(address uint64) []ids.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	om, ok := r.byAddress[address]
	if !ok {
		return nil
	}
	out := make([]ids.SessionID, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// RemoveSession atomically removes id from all three dimensions, as
// required when its session closes.
func (r *Registry) RemoveSession(id ids.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads.Delete(id)
	r.scannerState.Delete(id)
	for addr := range r.byIDAddrs[id] {
		r.unsubscribeAddressLocked(id, addr)
	}
}

// RemoveStreams atomically unsubscribes id from the advertisement stream
// and every per-address stream, leaving its scanner-state subscription (if
// any) untouched. Used when a session's outbox drops a stream message for
// lack of room: the lapsed subscriptions are cleared, but the session still
// needs to hear about scanner-state so it can learn its streams lapsed.
func (r *Registry) RemoveStreams(id ids.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads.Delete(id)
	for addr := range r.byIDAddrs[id] {
		r.unsubscribeAddressLocked(id, addr)
	}
}
