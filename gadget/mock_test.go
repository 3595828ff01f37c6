package gadget

import (
	"context"
	"sync"

	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// mockEndpoint implements udc.Endpoint for testing. Completions are driven
// explicitly by the test via complete().
type mockEndpoint struct {
	name string
	addr uint8

	mutex      sync.Mutex
	enabled    bool
	enableErr  error
	queueErr   error
	allocErr   error
	queued     []*udc.Request
	freed      int
	doubleFree int
	halted     int
	dequeued   int

	// With holdDequeue set, Dequeue parks the forced completion in held
	// instead of delivering it; the test delivers later via releaseHeld.
	holdDequeue bool
	held        []*udc.Request
}

func (e *mockEndpoint) Name() string   { return e.name }
func (e *mockEndpoint) Address() uint8 { return e.addr }

func (e *mockEndpoint) Enable(cfg udc.EndpointConfig) error {
	if e.enableErr != nil {
		return e.enableErr
	}
	e.mutex.Lock()
	e.enabled = true
	e.mutex.Unlock()
	return nil
}

func (e *mockEndpoint) Disable() error {
	e.mutex.Lock()
	e.enabled = false
	e.mutex.Unlock()
	return nil
}

func (e *mockEndpoint) AllocRequest(length int) (*udc.Request, error) {
	if e.allocErr != nil {
		return nil, e.allocErr
	}
	return &udc.Request{Buf: make([]byte, length)}, nil
}

func (e *mockEndpoint) FreeRequest(req *udc.Request) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !req.Release() {
		e.doubleFree++
		return
	}
	e.freed++
}

func (e *mockEndpoint) Queue(req *udc.Request) error {
	if e.queueErr != nil {
		return e.queueErr
	}
	e.mutex.Lock()
	e.queued = append(e.queued, req)
	e.mutex.Unlock()
	return nil
}

func (e *mockEndpoint) Dequeue(req *udc.Request) error {
	e.mutex.Lock()
	e.dequeued++
	if e.holdDequeue {
		e.held = append(e.held, req)
		e.mutex.Unlock()
		return nil
	}
	e.mutex.Unlock()
	e.complete(req, pkg.ErrConnReset, 0)
	return nil
}

// releaseHeld delivers the parked forced completions.
func (e *mockEndpoint) releaseHeld() {
	e.mutex.Lock()
	held := e.held
	e.held = nil
	e.mutex.Unlock()
	for _, req := range held {
		e.complete(req, pkg.ErrConnReset, 0)
	}
}

func (e *mockEndpoint) Halt() error {
	e.mutex.Lock()
	e.halted++
	e.mutex.Unlock()
	return nil
}

// complete finishes a queued request with the given outcome.
func (e *mockEndpoint) complete(req *udc.Request, status error, actual int) {
	req.Status = status
	req.Actual = actual
	if req.Complete != nil {
		req.Complete(e, req)
	}
}

// lastQueued returns the most recently queued request, or nil.
func (e *mockEndpoint) lastQueued() *udc.Request {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if len(e.queued) == 0 {
		return nil
	}
	return e.queued[len(e.queued)-1]
}

func (e *mockEndpoint) queueLen() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.queued)
}

func (e *mockEndpoint) freedCount() (freed, double int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.freed, e.doubleFree
}

// mockController implements udc.Controller for testing.
type mockController struct {
	name        string
	number      int
	mps0        uint16
	ep0         *mockEndpoint
	out         *mockEndpoint
	autoErr     error
	ep0AllocErr error
	selfPowered bool
	stalls      int
	setups      chan udc.SetupPacket
	events      chan error
	mutex       sync.Mutex
}

func newMockController() *mockController {
	return &mockController{
		name:   "mock_udc",
		number: 3,
		mps0:   64,
		ep0:    &mockEndpoint{name: "ep0", addr: 0},
		out:    &mockEndpoint{name: "ep1out", addr: 0x01},
		setups: make(chan udc.SetupPacket, 8),
		events: make(chan error, 8),
	}
}

func (c *mockController) Name() string           { return c.name }
func (c *mockController) Number() int            { return c.number }
func (c *mockController) MaxPacketSize0() uint16 { return c.mps0 }

func (c *mockController) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	c.selfPowered = selfPowered
	c.mutex.Unlock()
}

func (c *mockController) Init(ctx context.Context) error { return nil }
func (c *mockController) Start() error                   { return nil }
func (c *mockController) Stop() error                    { return nil }

func (c *mockController) AutoConfig(cfg *udc.EndpointConfig) (udc.Endpoint, error) {
	if c.autoErr != nil {
		return nil, c.autoErr
	}
	cfg.Address = c.out.addr
	return c.out, nil
}

func (c *mockController) EP0() udc.Endpoint {
	if c.ep0AllocErr != nil {
		c.ep0.allocErr = c.ep0AllocErr
	}
	return c.ep0
}

func (c *mockController) ReadSetup(ctx context.Context, out *udc.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.events:
		return err
	case setup := <-c.setups:
		*out = setup
		return nil
	}
}

func (c *mockController) StallEP0() error {
	c.mutex.Lock()
	c.stalls++
	c.mutex.Unlock()
	return nil
}

func (c *mockController) stallCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stalls
}

func (c *mockController) Speed() udc.Speed { return udc.SpeedFull }

// boundGadget returns a gadget bound to a fresh mock controller.
func boundGadget(t interface{ Fatalf(string, ...any) }) (*Gadget, *mockController) {
	ctrl := newMockController()
	g := New()
	if err := g.Bind(ctrl); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return g, ctrl
}

// configuredGadget returns a bound gadget with the loopback configuration
// active.
func configuredGadget(t interface{ Fatalf(string, ...any) }) (*Gadget, *mockController) {
	g, ctrl := boundGadget(t)
	var setup SetupPacket
	SetConfigurationSetup(&setup, ConfigLoopback)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	// Complete the status stage so EP0 is free again.
	ctrl.ep0.complete(ctrl.ep0.lastQueued(), nil, 0)
	return g, ctrl
}
