// Package actors provides embedded.Actor adapters for the child-invocation
// patterns named in the spec: a one-shot promise, a long-running callback
// actor, an observable subscription, and a pure reducer. Each wraps a plain
// Go function or channel so Invoke() can spawn it without the hsm package
// needing to know what kind of child it started.
package actors

import (
	"sync"

	"github.com/statecraft/hsm/embedded"
)

// Promise wraps a one-shot async computation: fn runs once in its own
// goroutine on Start, and reports its result to onDone/onError exactly
// once. Matches the "invoke a promise" actor pattern (spec §4.7).
type Promise struct {
	id      string
	fn      func() (any, error)
	onDone  func(any)
	onError func(error)

	mu      sync.Mutex
	started bool
	done    chan struct{}
	result  any
}

func NewPromise(id string, fn func() (any, error), onDone func(any), onError func(error)) *Promise {
	return &Promise{id: id, fn: fn, onDone: onDone, onError: onError, done: make(chan struct{})}
}

func (p *Promise) Id() string { return p.id }

func (p *Promise) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go func() {
		defer close(p.done)
		result, err := p.fn()
		if err != nil {
			if p.onError != nil {
				p.onError(err)
			}
			return
		}
		p.mu.Lock()
		p.result = result
		p.mu.Unlock()
		if p.onDone != nil {
			p.onDone(result)
		}
	}()
}

func (p *Promise) Stop() {}

func (p *Promise) Send(event embedded.Event) {} // promises do not accept events

func (p *Promise) Snapshot() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Callback wraps a long-running actor driven by an explicit receive
// function: Start launches receive in a goroutine, handing it a send
// function (to report events back to the parent) and a stop channel.
// Matches the "invoke a callback" actor pattern (spec §4.7).
type Callback struct {
	id      string
	receive func(send func(embedded.Event), stop <-chan struct{}, events <-chan embedded.Event)
	onEvent func(embedded.Event)

	mu     sync.Mutex
	events chan embedded.Event
	stopCh chan struct{}
	once   sync.Once
}

func NewCallback(id string, receive func(send func(embedded.Event), stop <-chan struct{}, events <-chan embedded.Event), onEvent func(embedded.Event)) *Callback {
	return &Callback{id: id, receive: receive, onEvent: onEvent, events: make(chan embedded.Event, 16), stopCh: make(chan struct{})}
}

func (c *Callback) Id() string { return c.id }

func (c *Callback) Start() {
	go c.receive(func(e embedded.Event) {
		if c.onEvent != nil {
			c.onEvent(e)
		}
	}, c.stopCh, c.events)
}

func (c *Callback) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *Callback) Send(event embedded.Event) {
	select {
	case c.events <- event:
	case <-c.stopCh:
	}
}

func (c *Callback) Snapshot() any { return nil }

// Observable wraps a subscription source: Start begins calling next for
// every value produced until Stop is called or the source completes.
// Matches the "invoke an observable" actor pattern (spec §4.7).
type Observable struct {
	id         string
	subscribe  func(next func(any), errFn func(error), complete func()) (unsubscribe func())
	onNext     func(any)
	onError    func(error)
	onComplete func()

	mu          sync.Mutex
	unsubscribe func()
}

func NewObservable(id string, subscribe func(next func(any), errFn func(error), complete func()) (unsubscribe func()), onNext func(any), onError func(error), onComplete func()) *Observable {
	return &Observable{id: id, subscribe: subscribe, onNext: onNext, onError: onError, onComplete: onComplete}
}

func (o *Observable) Id() string { return o.id }

func (o *Observable) Start() {
	unsub := o.subscribe(o.onNext, o.onError, o.onComplete)
	o.mu.Lock()
	o.unsubscribe = unsub
	o.mu.Unlock()
}

func (o *Observable) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Observable) Send(event embedded.Event) {} // observables are a pull-free source, not addressable

func (o *Observable) Snapshot() any { return nil }

// Reducer wraps a pure state-reducing actor: every Send folds the event
// into its held value via reduce, synchronously, with no goroutine of its
// own (spec §4.7 "invoke a reducer").
type Reducer struct {
	id     string
	mu     sync.Mutex
	value  any
	reduce func(value any, event embedded.Event) any
	onNext func(any)
}

func NewReducer(id string, initial any, reduce func(value any, event embedded.Event) any, onNext func(any)) *Reducer {
	return &Reducer{id: id, value: initial, reduce: reduce, onNext: onNext}
}

func (r *Reducer) Id() string { return r.id }
func (r *Reducer) Start()     {}
func (r *Reducer) Stop()      {}

func (r *Reducer) Send(event embedded.Event) {
	r.mu.Lock()
	r.value = r.reduce(r.value, event)
	value := r.value
	r.mu.Unlock()
	if r.onNext != nil {
		r.onNext(value)
	}
}

func (r *Reducer) Snapshot() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

var (
	_ embedded.Actor = (*Promise)(nil)
	_ embedded.Actor = (*Callback)(nil)
	_ embedded.Actor = (*Observable)(nil)
	_ embedded.Actor = (*Reducer)(nil)
)
