package peripheral

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry is the set of centrals subscribed to notifications.
// It is not synchronized; GattService guards it with its own lock.
type Registry struct {
	devices *orderedmap.OrderedMap[Device, struct{}]
}

func NewRegistry() *Registry {
	return &Registry{devices: orderedmap.New[Device, struct{}]()}
}

// Subscribe adds dev and reports whether it was newly added.
func (r *Registry) Subscribe(dev Device) bool {
	_, present := r.devices.Set(dev, struct{}{})
	return !present
}

// Unsubscribe removes dev and reports whether it was present.
func (r *Registry) Unsubscribe(dev Device) bool {
	_, present := r.devices.Delete(dev)
	return present
}

func (r *Registry) IsSubscribed(dev Device) bool {
	_, ok := r.devices.Get(dev)
	return ok
}

// All returns a snapshot in subscription order.
func (r *Registry) All() []Device {
	out := make([]Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (r *Registry) Len() int {
	return r.devices.Len()
}

func (r *Registry) Clear() {
	r.devices = orderedmap.New[Device, struct{}]()
}
