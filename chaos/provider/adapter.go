package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/injector"
	"github.com/chaosforge/agentchaos/chaos/model"
)

// ErrNotInstalled is returned by Adapter.Complete/Stream when interception
// is not currently installed. Calls outside an install/uninstall window are
// a wiring mistake, not something to silently pass through uninstrumented.
var ErrNotInstalled = errors.New("provider: interception not installed")

// Adapter owns the install/uninstall lifecycle of chaos interception over
// one provider client. Install swaps the call path the executor resolves
// through to an intercepted wrapper bound to a run's injector and recorder;
// Uninstall removes it, after which Complete/Stream fail with
// ErrNotInstalled until the next Install. Both are idempotent: a second Install
// leaves the first installation in place, a second Uninstall is a no-op,
// and the original client reference is never replaced, so teardown can call
// Uninstall unconditionally on every exit path.
type Adapter struct {
	name string
	raw  model.Client

	mu     sync.Mutex
	active *Intercepted
}

// NewAdapter binds an adapter to the provider client raw. name tags every
// CallRecord and event produced while interception is installed.
func NewAdapter(name string, raw model.Client) *Adapter {
	return &Adapter{name: name, raw: raw}
}

// Install wires interception for one run. It returns the intercepted
// client; a repeated Install returns the existing installation unchanged.
func (a *Adapter) Install(inj *injector.Injector, rec *hooks.Recorder) *Intercepted {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		a.active = New(a.name, a.raw, inj, rec)
	}
	return a.active
}

// Uninstall removes interception. Idempotent.
func (a *Adapter) Uninstall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = nil
}

// Installed reports whether interception is currently installed.
func (a *Adapter) Installed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// Raw returns the original client. Its identity is unchanged by any number
// of Install/Uninstall cycles.
func (a *Adapter) Raw() model.Client { return a.raw }

// Complete forwards to the installed interception, or fails with
// ErrNotInstalled outside an install window.
func (a *Adapter) Complete(ctx context.Context, req *model.Request, info CallInfo) (*model.Response, string, error) {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return nil, "", ErrNotInstalled
	}
	return active.Complete(ctx, req, info)
}

// Stream forwards to the installed interception, or fails with
// ErrNotInstalled outside an install window.
func (a *Adapter) Stream(ctx context.Context, req *model.Request, info CallInfo) (model.Streamer, string, error) {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return nil, "", ErrNotInstalled
	}
	return active.Stream(ctx, req, info)
}
