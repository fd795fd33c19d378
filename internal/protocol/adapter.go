// Package protocol turns controller payloads into models.Telemetry.
package protocol

import (
	"errors"
	"fmt"
	"sync"

	"machine_monitor/internal/models"
)

var ErrUnsupportedProtocol = errors.New("unsupported connection type")

// Adapter knows where to fetch a machine's payload and how to read it.
// Parse never fails loudly: unusable input yields nil.
type Adapter interface {
	Protocol() models.ConnectionType
	Endpoint(m models.Machine) string
	Headers() map[string]string
	Parse(raw []byte) *models.Telemetry
	DetermineState(current *models.Telemetry, previous *models.Snapshot) models.MachineState
}

// Registry resolves adapters by connection type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ConnectionType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.ConnectionType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Protocol().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Protocol()] = a
}

func (r *Registry) Lookup(ct models.ConnectionType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ct]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, ct)
	}
	return a, nil
}

// noCacheHeaders keep intermediaries from serving a stale reading.
func noCacheHeaders() map[string]string {
	return map[string]string{
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
}
