package asyncssr

import (
	"sync"
)

// Deferred is an asynchronous result a component can suspend on. Subscribe
// registers callbacks for settlement; exactly one of them is invoked, exactly
// once, possibly synchronously when the value has already settled.
type Deferred interface {
	Subscribe(onResolve func(value any), onReject func(err error))
}

// NoSSR is the opt-out marker. A deferred that reports NoSSR() == true tells
// the renderer not to wait for it on the server: the nearest enclosing
// boundary renders its fallback immediately instead.
type NoSSR interface {
	NoSSR() bool
}

// Abortable is implemented by deferreds whose work can be cancelled when the
// renderer decides their result will never be used.
type Abortable interface {
	Abort()
}

// Suspend returns the error a component yields to defer its content until d
// settles. The renderer recognizes it and records a pending region; any other
// error fails the render.
func Suspend(d Deferred) error {
	return &suspendError{d: d}
}

type suspendError struct {
	d Deferred
}

func (e *suspendError) Error() string { return "asyncssr: component suspended" }

// suspended extracts the deferred from a component error, if the error is a
// suspension. Wrapped suspensions are honored so components may annotate the
// error chain.
func suspended(err error) (Deferred, bool) {
	for err != nil {
		if se, ok := err.(*suspendError); ok {
			return se.d, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Promise is the built-in Deferred: settle it once with Resolve or Reject.
// It is safe for concurrent use.
type Promise struct {
	mu        sync.Mutex
	settled   bool
	value     any
	err       error
	onResolve []func(any)
	onReject  []func(error)
	noSSR     bool
	aborted   bool
	onAbort   func()
	done      chan struct{}
}

// NewPromise returns an unsettled promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and returns a promise settled with its
// result.
func Go(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Resolved returns a promise already settled with value.
func Resolved(value any) *Promise {
	p := NewPromise()
	p.Resolve(value)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve settles the promise with value. Later calls to Resolve or Reject
// are ignored.
func (p *Promise) Resolve(value any) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.value = value
	subs := p.onResolve
	p.onResolve, p.onReject = nil, nil
	close(p.done)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(value)
	}
}

// Reject settles the promise with err.
func (p *Promise) Reject(err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.err = err
	subs := p.onReject
	p.onResolve, p.onReject = nil, nil
	close(p.done)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// Subscribe implements Deferred. Callbacks run synchronously when the promise
// has already settled, otherwise on the goroutine that settles it.
func (p *Promise) Subscribe(onResolve func(any), onReject func(error)) {
	p.mu.Lock()
	if !p.settled {
		if onResolve != nil {
			p.onResolve = append(p.onResolve, onResolve)
		}
		if onReject != nil {
			p.onReject = append(p.onReject, onReject)
		}
		p.mu.Unlock()
		return
	}
	value, err := p.value, p.err
	p.mu.Unlock()
	if err != nil {
		if onReject != nil {
			onReject(err)
		}
		return
	}
	if onResolve != nil {
		onResolve(value)
	}
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Result returns the settled value or error. It is only meaningful after
// Settled reports true.
func (p *Promise) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Done returns a channel closed when the promise settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// MarkNoSSR flags the promise as not worth waiting for during server
// rendering and returns it for chaining.
func (p *Promise) MarkNoSSR() *Promise {
	p.mu.Lock()
	p.noSSR = true
	p.mu.Unlock()
	return p
}

// NoSSR implements the opt-out marker.
func (p *Promise) NoSSR() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noSSR
}

// OnAbort registers fn to run when the renderer abandons the promise. It
// replaces any previously registered function.
func (p *Promise) OnAbort(fn func()) *Promise {
	p.mu.Lock()
	p.onAbort = fn
	p.mu.Unlock()
	return p
}

// Abort implements Abortable. It marks the promise abandoned and runs the
// OnAbort hook once. The promise may still settle afterwards; the renderer
// ignores the result.
func (p *Promise) Abort() {
	p.mu.Lock()
	if p.aborted {
		p.mu.Unlock()
		return
	}
	p.aborted = true
	fn := p.onAbort
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Aborted reports whether Abort has been called.
func (p *Promise) Aborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// Resource caches one computation so a component can suspend on first render
// and read the settled value when re-rendered. The computation starts on the
// first Read.
type Resource struct {
	once sync.Once
	fn   func() (any, error)
	p    *Promise
}

// NewResource wraps fn. The function runs at most once, on its own goroutine.
func NewResource(fn func() (any, error)) *Resource {
	return &Resource{fn: fn, p: NewPromise()}
}

// Read returns the settled result, or a suspension error while the
// computation is still running. Components propagate that error directly:
//
//	v, err := res.Read()
//	if err != nil {
//		return nil, err
//	}
func (r *Resource) Read() (any, error) {
	r.once.Do(func() {
		go func() {
			v, err := r.fn()
			if err != nil {
				r.p.Reject(err)
				return
			}
			r.p.Resolve(v)
		}()
	})
	if r.p.Settled() {
		return r.p.Result()
	}
	return nil, Suspend(r.p)
}

// Promise exposes the underlying promise, e.g. to mark it NoSSR or register
// an abort hook before the first Read.
func (r *Resource) Promise() *Promise { return r.p }
