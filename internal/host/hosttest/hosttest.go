// Package hosttest provides a scriptable in-memory host.Runtime for tests.
package hosttest

import (
	"context"
	"sync"

	"github.com/gymbell/gymbell/internal/host"
)

// Runtime is a fake host.Runtime. Exported fields may be set before use;
// after that, use the methods so access stays synchronized.
type Runtime struct {
	mu sync.Mutex

	Unsupported bool
	Perm        host.Permission
	// Answer is what RequestPermission resolves to.
	Answer        host.Permission
	PermissionErr error
	// MissingRegistrations is the number of Registration calls that report
	// no registration before Reg is returned.
	MissingRegistrations int
	RegistrationErr      error
	Reg                  *Registration

	PermissionRequests int
	RegistrationCalls  int

	next int
	ctrl map[int]func()
	msgs map[int]func(host.Message)
}

var _ host.Runtime = (*Runtime)(nil)

// New returns a supported runtime with default permission and an activated
// worker whose push manager mints subscriptions at endpoint.
func New(endpoint string) *Runtime {
	return &Runtime{
		Perm:   host.PermissionDefault,
		Answer: host.PermissionGranted,
		Reg:    NewRegistration(host.WorkerActivated, NewPushManager(endpoint)),
	}
}

func (r *Runtime) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Unsupported
}

func (r *Runtime) Permission() host.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Perm
}

// SetPermission changes the stored permission without a prompt.
func (r *Runtime) SetPermission(p host.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Perm = p
}

func (r *Runtime) RequestPermission(ctx context.Context) (host.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PermissionRequests++
	if r.PermissionErr != nil {
		return r.Perm, r.PermissionErr
	}
	if err := ctx.Err(); err != nil {
		return r.Perm, err
	}
	r.Perm = r.Answer
	return r.Perm, nil
}

func (r *Runtime) Registration(ctx context.Context) (host.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RegistrationCalls++
	if r.RegistrationErr != nil {
		return nil, r.RegistrationErr
	}
	if r.MissingRegistrations > 0 {
		r.MissingRegistrations--
		return nil, nil
	}
	if r.Reg == nil {
		return nil, nil
	}
	return r.Reg, nil
}

// Calls returns the permission-request and registration-lookup counts.
func (r *Runtime) Calls() (permission, registration int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PermissionRequests, r.RegistrationCalls
}

func (r *Runtime) OnControllerChange(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctrl == nil {
		r.ctrl = make(map[int]func())
	}
	id := r.next
	r.next++
	r.ctrl[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.ctrl, id)
	}
}

func (r *Runtime) OnMessage(fn func(host.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[int]func(host.Message))
	}
	id := r.next
	r.next++
	r.msgs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.msgs, id)
	}
}

// Handlers returns how many controller-change and message handlers are
// registered.
func (r *Runtime) Handlers() (controller, message int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ctrl), len(r.msgs)
}

// FireControllerChange invokes every controller-change handler synchronously.
func (r *Runtime) FireControllerChange() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.ctrl))
	for _, fn := range r.ctrl {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Post invokes every message handler synchronously.
func (r *Runtime) Post(msg host.Message) {
	r.mu.Lock()
	fns := make([]func(host.Message), 0, len(r.msgs))
	for _, fn := range r.msgs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Registration is a fake worker registration.
type Registration struct {
	mu    sync.Mutex
	state host.WorkerState
	// Activates makes WaitActivated succeed at once; otherwise it blocks
	// until the context is done.
	Activates bool
	Push      *PushManager
	Waits     int
}

var _ host.Registration = (*Registration)(nil)

// NewRegistration returns a registration in state.
func NewRegistration(state host.WorkerState, pm *PushManager) *Registration {
	return &Registration{state: state, Push: pm}
}

func (g *Registration) State() host.WorkerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetState moves the worker to state.
func (g *Registration) SetState(state host.WorkerState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
}

func (g *Registration) WaitActivated(ctx context.Context) error {
	g.mu.Lock()
	g.Waits++
	switch {
	case g.state == host.WorkerActivated:
		g.mu.Unlock()
		return nil
	case g.state == host.WorkerRedundant:
		g.mu.Unlock()
		return host.ErrWorkerRedundant
	case g.Activates:
		g.state = host.WorkerActivated
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (g *Registration) PushManager() host.PushManager {
	return g.Push
}
