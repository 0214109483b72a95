package network

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMiddleware is returned by Use for a nil or misconfigured middleware
	ErrInvalidMiddleware = errors.New("network: invalid middleware")
	// ErrInvalidStage means a middleware produced no stage for a peer
	ErrInvalidStage = errors.New("network: middleware returned a nil stage")
	// ErrStagePanic wraps a panic recovered from a stage
	ErrStagePanic = errors.New("network: stage panicked")
)

// Emit passes a record on to the next stage of a pipeline
type Emit func(record interface{}) error

// Stage is one link in a connection's pipeline.
//
// Process receives records in the order the previous stage emitted them,
// and may call emit any number of times. Returning an error ends the
// connection the stage belongs to, and no other.
type Stage interface {
	Process(record interface{}, emit Emit) error
}

// StageFunc lets a plain function be used as a Stage
type StageFunc func(record interface{}, emit Emit) error

// Process calls the function
func (f StageFunc) Process(record interface{}, emit Emit) error {
	return f(record, emit)
}

// Middleware creates a fresh stage for every peer.
//
// Middleware are registered once with Node.Use and form the template
// each connection's pipeline is built from.
type Middleware interface {
	NewStage(peer *Peer) Stage
}

// FactoryFunc lets a plain function be used as a Middleware
type FactoryFunc func(peer *Peer) Stage

// NewStage calls the function
func (f FactoryFunc) NewStage(peer *Peer) Stage {
	return f(peer)
}

// Plugin is implemented by middleware that install node capabilities.
//
// Install is called exactly once per call to Use, so it has to tolerate
// being called again for an equivalent middleware.
type Plugin interface {
	Install(node *Node)
}

// Validator is implemented by middleware that can be misconfigured.
// Use refuses middleware whose Validate fails.
type Validator interface {
	Validate() error
}

// Initializer is implemented by stages needing the node and peer they serve.
//
// Init is called once, after the whole pipeline is built, and before
// any data from the peer reaches it.
type Initializer interface {
	Init(node *Node, peer *Peer)
}

// Passthrough emits every record unchanged; it always heads the template
var Passthrough Middleware = FactoryFunc(func(*Peer) Stage {
	return StageFunc(func(record interface{}, emit Emit) error {
		return emit(record)
	})
})

// pipeline is the live chain of stages for one peer
type pipeline struct {
	stages []Stage
	emits  []Emit
}

// assemble instantiates the node's template for a peer
func (n *Node) assemble(peer *Peer) (pl *pipeline, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w while building pipeline: %v", ErrStagePanic, r)
		}
	}()
	template := n.templateSnapshot()
	pl = &pipeline{
		stages: make([]Stage, len(template)),
		emits:  make([]Emit, len(template)),
	}
	for i, middleware := range template {
		stage := middleware.NewStage(peer)
		if stage == nil {
			return nil, fmt.Errorf("%w (position %d)", ErrInvalidStage, i)
		}
		pl.stages[i] = stage
	}
	for i := range pl.stages {
		next := i + 1
		if next == len(pl.stages) {
			pl.emits[i] = func(record interface{}) error {
				n.deliver(peer, record)
				return nil
			}
			continue
		}
		pl.emits[i] = func(record interface{}) error {
			return pl.stages[next].Process(record, pl.emits[next])
		}
	}
	for _, stage := range pl.stages {
		if initializer, ok := stage.(Initializer); ok {
			initializer.Init(n, peer)
		}
	}
	return pl, nil
}

// feed pushes a chunk read from the connection through the pipeline
func (pl *pipeline) feed(chunk []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return pl.stages[0].Process(chunk, pl.emits[0])
}

// Use registers middleware at the end of the template.
//
// Every argument is checked before anything is registered, a nil
// middleware being a programming error. Plugins are installed
// immediately. Connections that are already open keep the pipeline
// they were built with.
func (n *Node) Use(middleware ...Middleware) error {
	for i, m := range middleware {
		if m == nil {
			return fmt.Errorf("%w (argument %d)", ErrInvalidMiddleware, i)
		}
		if f, ok := m.(FactoryFunc); ok && f == nil {
			return fmt.Errorf("%w (argument %d)", ErrInvalidMiddleware, i)
		}
		if v, ok := m.(Validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%w (argument %d): %v", ErrInvalidMiddleware, i, err)
			}
		}
	}
	for _, m := range middleware {
		if plugin, ok := m.(Plugin); ok {
			plugin.Install(n)
		}
		n.mu.Lock()
		n.template = append(n.template, m)
		n.mu.Unlock()
	}
	return nil
}

func (n *Node) templateSnapshot() []Middleware {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Middleware(nil), n.template...)
}
