package transport

import (
	"sort"
	"sync"

	quic "github.com/quic-go/quic-go"
)

// listenerHandle is what the registry hands out for a key: the listener's
// accept queue plus a constructor for network endpoints carrying the
// listener's concrete message types.
type listenerHandle struct {
	key    Key
	accept *queue
	wrap   func(st quic.Stream) Endpoint
}

func (h *listenerHandle) deliver(ep Endpoint) error {
	if err := h.accept.push(ep); err != nil {
		return ErrListenerClosed
	}
	return nil
}

// registry maps service signatures to listeners. Entries live for the whole
// process; a closed listener's entry stays until the key is registered again.
type registry struct {
	mu      sync.Mutex // serializes register
	entries sync.Map   // Key -> *listenerHandle
}

var defaultRegistry = sync.OnceValue(func() *registry { return &registry{} })

func (r *registry) register(h *listenerHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries.Load(h.key); ok && cur.(*listenerHandle).accept.receiving() {
		return ErrAlreadyRegistered
	}
	r.entries.Store(h.key, h)
	return nil
}

func (r *registry) lookup(key Key) (*listenerHandle, bool) {
	v, ok := r.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*listenerHandle), true
}

// signatures returns every registered key for one service id.
func (r *registry) signatures(id ServiceID) []Key {
	var out []Key
	r.entries.Range(func(k, _ any) bool {
		if key := k.(Key); key.Service == id {
			out = append(out, key)
		}
		return true
	})
	return out
}

// Services lists every key with a listener that is still accepting.
func Services() []Key {
	var out []Key
	defaultRegistry().entries.Range(func(k, v any) bool {
		if v.(*listenerHandle).accept.receiving() {
			out = append(out, k.(Key))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
