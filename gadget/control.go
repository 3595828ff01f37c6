package gadget

import (
	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// handleSetup dispatches one SETUP packet. A non-nil return tells the
// control loop to stall EP0.
func (g *Gadget) handleSetup(setup *SetupPacket) error {
	g.mu.Lock()
	busy := g.ctrlBusy
	g.mu.Unlock()
	if busy {
		// The single EP0 response buffer is still in flight; the host
		// should not have issued another request yet.
		pkg.LogWarn(pkg.ComponentEP0, "control request while response pending",
			"setup", setup.String())
		return pkg.ErrBusy
	}

	switch setup.Request {
	case RequestGetDescriptor:
		if !setup.IsDeviceToHost() {
			return pkg.ErrNotSupported
		}
		n, err := g.buildDescriptor(setup.DescriptorType(),
			setup.DescriptorIndex(), g.ctrlReq.Buf)
		if err != nil {
			return err
		}
		if n > int(setup.Length) {
			n = int(setup.Length)
		}
		pkg.LogDebug(pkg.ComponentEP0, "descriptor",
			"type", setup.DescriptorType(), "index", setup.DescriptorIndex(),
			"length", n)
		return g.respond(setup, n)

	case RequestSetConfiguration:
		if setup.RequestType != 0 {
			return pkg.ErrNotSupported
		}
		if uint8(setup.Value) == ConfigLoopback {
			if err := g.activate(); err != nil {
				g.deactivate()
				return err
			}
		} else {
			// Unsupported values deconfigure the device rather than
			// stalling; value 0 is the spec-mandated deconfigure.
			g.deactivate()
		}
		pkg.LogInfo(pkg.ComponentEP0, "set configuration",
			"value", setup.Value, "state", g.State())
		return g.respond(setup, 0)

	default:
		pkg.LogDebug(pkg.ComponentEP0, "unknown control request",
			"setup", setup.String())
		return pkg.ErrNotSupported
	}
}

// respond queues the status or data stage on EP0. n bytes of g.ctrlReq.Buf
// form the response; a response shorter than the host asked for is closed
// with a zero-length packet.
func (g *Gadget) respond(setup *SetupPacket, n int) error {
	g.ctrlReq.Length = n
	g.ctrlReq.Zero = n < int(setup.Length)
	g.ctrlReq.Complete = g.setupComplete
	g.ctrlReq.Status = nil
	g.ctrlReq.Actual = 0

	g.mu.Lock()
	g.ctrlBusy = true
	g.mu.Unlock()

	if err := g.ctrl.EP0().Queue(g.ctrlReq); err != nil {
		// The transaction is lost either way; stalling now would race
		// the host's next request.
		pkg.LogWarn(pkg.ComponentEP0, "queue response failed", "err", err)
		g.mu.Lock()
		g.ctrlBusy = false
		g.mu.Unlock()
	}
	return nil
}

// setupComplete runs when the EP0 response finishes, releasing the single
// response buffer for the next control request.
func (g *Gadget) setupComplete(ep udc.Endpoint, req *udc.Request) {
	if req.Status != nil || req.Actual != req.Length {
		pkg.LogDebug(pkg.ComponentEP0, "setup complete",
			"status", req.Status, "actual", req.Actual, "length", req.Length)
	}
	g.mu.Lock()
	g.ctrlBusy = false
	g.mu.Unlock()
}
