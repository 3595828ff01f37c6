package gadget

import (
	"fmt"

	"github.com/mkolbe/gadgetzero/pkg"
)

// activate enters the loopback configuration: the sink endpoint is enabled
// and the gadget becomes Configured. Activating an already active
// configuration is a no-op.
func (g *Gadget) activate() error {
	g.mu.Lock()
	if g.sink != nil {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	// Enable can reach into the controller; keep it outside the lock.
	if err := g.outEp.Enable(g.sinkCfg); err != nil {
		return fmt.Errorf("enable %s: %w", g.outEp.Name(), err)
	}

	g.mu.Lock()
	g.sink = g.outEp
	g.state = Configured
	g.mu.Unlock()

	pkg.LogInfo(pkg.ComponentEndpoint, "configuration active",
		"endpoint", g.outEp.Name(), "maxpacket", g.sinkCfg.MaxPacketSize)
	return nil
}

// deactivate leaves the configuration: any outstanding receive is dequeued,
// the sink endpoint is disabled, and the gadget returns to Unconfigured.
// Deactivating an inactive gadget is a no-op.
func (g *Gadget) deactivate() {
	g.mu.Lock()
	sink := g.sink
	inflight := g.inflight
	g.sink = nil
	g.state = Unconfigured
	g.mu.Unlock()

	if sink == nil {
		return
	}
	if inflight != nil {
		if err := sink.Dequeue(inflight); err != nil {
			pkg.LogDebug(pkg.ComponentEndpoint, "dequeue on deactivate",
				"err", err)
		}
	}
	if err := sink.Disable(); err != nil {
		pkg.LogWarn(pkg.ComponentEndpoint, "disable failed",
			"endpoint", sink.Name(), "err", err)
	}
	pkg.LogInfo(pkg.ComponentEndpoint, "configuration torn down",
		"endpoint", sink.Name())
}
