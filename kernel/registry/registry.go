// Package registry is the process-wide name->function table for
// activation, loss, and layer kernels. Registration is serialized by a
// mutex; reads go through an atomic snapshot pointer published on every
// write, so lookups never block a writer and stay wait-free after
// publication.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/kernel"
)

type tables struct {
	activation map[string]kernel.Fn
	loss       map[string]kernel.LossFn
	layer      map[string]kernel.Fn
}

// Registry holds the three kernel tables. The zero value is not usable;
// use New.
type Registry struct {
	mu   sync.Mutex // serializes writers only
	snap atomic.Pointer[tables]
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&tables{
		activation: map[string]kernel.Fn{},
		loss:       map[string]kernel.LossFn{},
		layer:      map[string]kernel.Fn{},
	})
	return r
}

func cloneTables(t *tables) *tables {
	out := &tables{
		activation: make(map[string]kernel.Fn, len(t.activation)),
		loss:       make(map[string]kernel.LossFn, len(t.loss)),
		layer:      make(map[string]kernel.Fn, len(t.layer)),
	}
	for k, v := range t.activation {
		out.activation[k] = v
	}
	for k, v := range t.loss {
		out.loss[k] = v
	}
	for k, v := range t.layer {
		out.layer[k] = v
	}
	return out
}

// RegisterActivation installs (or replaces) an activation kernel by name.
// Plugins may override built-ins.
func (r *Registry) RegisterActivation(name string, fn kernel.Fn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := cloneTables(r.snap.Load())
	next.activation[name] = fn
	r.snap.Store(next)
}

// RegisterLoss installs (or replaces) a loss kernel by name.
func (r *Registry) RegisterLoss(name string, fn kernel.LossFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := cloneTables(r.snap.Load())
	next.loss[name] = fn
	r.snap.Store(next)
}

// RegisterLayer installs (or replaces) a layer-transform kernel by name.
func (r *Registry) RegisterLayer(name string, fn kernel.Fn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := cloneTables(r.snap.Load())
	next.layer[name] = fn
	r.snap.Store(next)
}

// Activation looks up an activation kernel. Returns ErrUnknownFunction if
// absent.
func (r *Registry) Activation(name string) (kernel.Fn, error) {
	fn, ok := r.snap.Load().activation[name]
	if !ok {
		return nil, &herr.UnknownFunctionError{Name: name}
	}
	return fn, nil
}

// Loss looks up a loss kernel. Returns ErrUnknownFunction if absent.
func (r *Registry) Loss(name string) (kernel.LossFn, error) {
	fn, ok := r.snap.Load().loss[name]
	if !ok {
		return nil, &herr.UnknownFunctionError{Name: name}
	}
	return fn, nil
}

// Layer looks up a layer-transform kernel. Returns ErrUnknownFunction if
// absent.
func (r *Registry) Layer(name string) (kernel.Fn, error) {
	fn, ok := r.snap.Load().layer[name]
	if !ok {
		return nil, &herr.UnknownFunctionError{Name: name}
	}
	return fn, nil
}

// Resolve looks a name up across activation and layer tables.
func (r *Registry) Resolve(name string) (kernel.Fn, kernel.Kind, error) {
	s := r.snap.Load()
	if fn, ok := s.activation[name]; ok {
		return fn, kernel.KindActivation, nil
	}
	if fn, ok := s.layer[name]; ok {
		return fn, kernel.KindLayer, nil
	}
	return nil, 0, &herr.UnknownFunctionError{Name: name}
}

// Names returns every registered name across all three tables, for
// diagnostics.
func (r *Registry) Names() (activations, losses, layers []string) {
	s := r.snap.Load()
	for k := range s.activation {
		activations = append(activations, k)
	}
	for k := range s.loss {
		losses = append(losses, k)
	}
	for k := range s.layer {
		layers = append(layers, k)
	}
	return
}
