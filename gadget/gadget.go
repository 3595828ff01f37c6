package gadget

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// State is the configuration state of the gadget.
type State uint8

// Gadget states.
const (
	Unconfigured State = iota // Bound but no configuration selected
	Configured                // Loopback configuration active
)

// String returns a human-readable state name.
func (s State) String() string {
	if s == Configured {
		return "configured"
	}
	return "unconfigured"
}

// readResult carries the outcome of one bulk receive to the blocked reader.
type readResult struct {
	n   int
	err error
}

// Gadget is the zero function driver: a vendor-specific device with a single
// bulk-OUT sink endpoint. It binds to a [udc.Controller], answers the
// standard control requests the function needs, and hands received bulk data
// to a single blocking consumer via [Gadget.Read].
type Gadget struct {
	ctrl    udc.Controller
	devDesc DeviceDescriptor
	fn      *Function
	strings *StringTable

	sinkCfg udc.EndpointConfig // Autoconfigured sink endpoint attributes
	outEp   udc.Endpoint       // Reserved at bind, enabled on configuration
	ctrlReq *udc.Request       // Single EP0 response buffer

	mu       sync.Mutex
	state    State
	sink     udc.Endpoint // Non-nil only while Configured
	inflight *udc.Request // Outstanding bulk receive, if any
	ctrlBusy bool         // EP0 response queued and not yet completed

	data    [RecvBufSize]byte // Latest completed receive
	dataLen int
	result  *readResult
	reading bool

	// signal wakes the blocked reader. Capacity 1 so completions never
	// block and a wakeup is never lost.
	signal chan struct{}
}

// New returns an unbound gadget with the default catalog.
func New() *Gadget {
	return &Gadget{
		devDesc: defaultDeviceDescriptor(),
		strings: defaultStrings(),
		signal:  make(chan struct{}, 1),
	}
}

// SetVendorProduct overrides the idVendor and idProduct the device reports.
// Call before the host enumerates.
func (g *Gadget) SetVendorProduct(vendor, product uint16) {
	g.devDesc.VendorID = vendor
	g.devDesc.ProductID = product
}

// SetSerial overrides the serial number string. An empty value keeps the
// default.
func (g *Gadget) SetSerial(serial string) {
	if serial != "" {
		g.strings.Set(StringSerial, serial)
	}
}

// Bind attaches the gadget to a controller: reserves the sink endpoint,
// finalizes the descriptor catalog from controller properties, and allocates
// the EP0 response buffer. On failure the controller is left untouched.
func (g *Gadget) Bind(ctrl udc.Controller) error {
	if g.ctrl != nil {
		return pkg.ErrAlreadyBound
	}

	g.sinkCfg = udc.EndpointConfig{
		Address:       EndpointDirectionOut,
		Attributes:    EndpointTypeBulk,
		MaxPacketSize: BulkMaxPacket,
	}
	ep, err := ctrl.AutoConfig(&g.sinkCfg)
	if err != nil {
		return fmt.Errorf("autoconfig sink: %w", err)
	}
	g.outEp = ep
	g.fn = loopbackFunction(g.sinkCfg.Address)

	// A recognized controller encodes its code into bcdDevice so the host
	// can tell which backend it is talking to.
	if n := ctrl.Number(); n >= 0 {
		g.devDesc.DeviceVersion = 0x0200 + uint16(n)
	} else {
		pkg.LogWarn(pkg.ComponentGadget, "controller not recognized",
			"name", ctrl.Name())
		g.devDesc.DeviceVersion = 0x9999
	}
	g.devDesc.MaxPacketSize0 = uint8(ctrl.MaxPacketSize0())
	g.strings.Set(StringManufacturer, fmt.Sprintf("%s %s with %s",
		runtime.GOOS, runtime.Version(), ctrl.Name()))

	req, err := ctrl.EP0().AllocRequest(ControlBufSize)
	if err != nil {
		g.outEp = nil
		g.fn = nil
		return fmt.Errorf("alloc control request: %w", err)
	}
	g.ctrlReq = req

	ctrl.SetSelfPowered(true)
	g.ctrl = ctrl
	pkg.LogInfo(pkg.ComponentGadget, "bound to controller",
		"controller", ctrl.Name(), "sink", ep.Name())
	return nil
}

// Unbind detaches from the controller, deactivating the configuration and
// releasing the EP0 response buffer. Unbinding an unbound gadget is a no-op.
func (g *Gadget) Unbind() {
	if g.ctrl == nil {
		return
	}
	g.deactivate()
	g.ctrl.EP0().FreeRequest(g.ctrlReq)
	g.ctrlReq = nil
	g.outEp = nil
	g.fn = nil
	pkg.LogInfo(pkg.ComponentGadget, "unbound from controller",
		"controller", g.ctrl.Name())
	g.ctrl = nil
}

// State returns the current configuration state.
func (g *Gadget) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run drives the control plane until the context is cancelled: it reads
// SETUP packets from the controller, dispatches them, and stalls EP0 for
// anything the function does not support. Bus reset and disconnect events
// tear down the active configuration and the loop continues waiting for the
// next enumeration.
func (g *Gadget) Run(ctx context.Context) error {
	if g.ctrl == nil {
		return pkg.ErrNotConfigured
	}
	var setup udc.SetupPacket
	for {
		err := g.ctrl.ReadSetup(ctx, &setup)
		switch {
		case err == nil:
		case errors.Is(err, pkg.ErrReset), errors.Is(err, pkg.ErrDisconnected):
			pkg.LogInfo(pkg.ComponentGadget, "bus event", "event", err)
			g.Disconnect()
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			return fmt.Errorf("read setup: %w", err)
		}

		var s SetupPacket
		setupFromUDC(&setup, &s)
		if err := g.handleSetup(&s); err != nil {
			pkg.LogDebug(pkg.ComponentEP0, "stalling control request",
				"setup", s.String(), "err", err)
			if serr := g.ctrl.StallEP0(); serr != nil {
				pkg.LogWarn(pkg.ComponentEP0, "stall failed", "err", serr)
			}
		}
	}
}

// Disconnect tears down the session state after the host goes away: any
// outstanding bulk receive is forced to completion and the gadget returns
// to Unconfigured. A blocked reader wakes and observes the completion.
func (g *Gadget) Disconnect() {
	g.deactivate()
}

// Read blocks until one bulk-OUT transfer completes, then copies the
// received payload into buf and returns its length. Transfers larger than
// len(buf) are truncated. Only one reader may be blocked at a time; a
// concurrent call returns pkg.ErrBusy. Read fails with pkg.ErrNotConfigured
// until the host selects the loopback configuration.
func (g *Gadget) Read(ctx context.Context, buf []byte) (int, error) {
	g.mu.Lock()
	if g.reading {
		g.mu.Unlock()
		return 0, pkg.ErrBusy
	}
	if g.state != Configured || g.sink == nil {
		g.mu.Unlock()
		return 0, pkg.ErrNotConfigured
	}
	g.reading = true
	g.result = nil
	ep := g.sink
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.reading = false
		g.mu.Unlock()
	}()

	if err := g.startReceive(ep); err != nil {
		return 0, err
	}

	for {
		g.mu.Lock()
		if r := g.result; r != nil {
			g.result = nil
			var n int
			if r.err == nil {
				n = copy(buf, g.data[:r.n])
			}
			g.mu.Unlock()
			return n, r.err
		}
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			// Claim the receive before dequeuing so its forced
			// completion, which may arrive after the next Read has
			// armed a fresh one, is recognized as stale and only
			// frees the request.
			g.mu.Lock()
			inflight := g.inflight
			g.inflight = nil
			g.mu.Unlock()
			if inflight != nil {
				if err := ep.Dequeue(inflight); err != nil {
					pkg.LogDebug(pkg.ComponentTransfer, "dequeue on cancel",
						"err", err)
				}
			}
			return 0, ctx.Err()
		case <-g.signal:
		}
	}
}
