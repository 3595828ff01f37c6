package gadget

import (
	"fmt"

	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// startReceive allocates and queues one bulk-OUT receive on the sink
// endpoint. The outcome arrives through sinkComplete.
func (g *Gadget) startReceive(ep udc.Endpoint) error {
	req, err := ep.AllocRequest(RecvBufSize)
	if err != nil {
		return fmt.Errorf("alloc receive: %w", err)
	}
	// A short transfer leaves the tail of the buffer untouched; start
	// from a known state so stale bytes cannot leak to the consumer.
	for i := range req.Buf {
		req.Buf[i] = 0
	}
	req.Length = RecvBufSize
	req.Complete = g.sinkComplete

	g.mu.Lock()
	g.inflight = req
	g.mu.Unlock()

	if err := ep.Queue(req); err != nil {
		g.mu.Lock()
		g.inflight = nil
		g.mu.Unlock()
		ep.FreeRequest(req)
		return fmt.Errorf("queue receive: %w", err)
	}
	return nil
}

// sinkComplete classifies a finished bulk receive, publishes the outcome
// for the blocked reader, and frees the request. It runs on the
// controller's event context and must not block.
func (g *Gadget) sinkComplete(ep udc.Endpoint, req *udc.Request) {
	status := pkg.StatusOf(req.Status)

	g.mu.Lock()
	if req != g.inflight {
		// A dequeued receive completing after the next one was armed.
		// Its outcome belongs to no reader; drop it without touching
		// the current receive.
		g.mu.Unlock()
		pkg.LogDebug(pkg.ComponentTransfer, "stale completion discarded",
			"status", status, "endpoint", ep.Name())
		ep.FreeRequest(req)
		return
	}
	var n int
	switch {
	case status == pkg.StatusSuccess:
		g.dataLen = copy(g.data[:], req.Buf[:req.Actual])
		n = g.dataLen
	case status.IsGone():
		// Endpoint shut down under the request; the data stage never
		// happened.
		pkg.LogDebug(pkg.ComponentTransfer, "receive ended",
			"status", status, "endpoint", ep.Name())
	case status == pkg.StatusOverflow:
		pkg.LogWarn(pkg.ComponentTransfer, "transfer overflow, dropped",
			"endpoint", ep.Name(), "capacity", RecvBufSize)
	default:
		pkg.LogDebug(pkg.ComponentTransfer, "receive failed",
			"status", status, "actual", req.Actual)
	}
	g.inflight = nil
	g.result = &readResult{n: n, err: status.Err()}
	g.mu.Unlock()

	ep.FreeRequest(req)

	select {
	case g.signal <- struct{}{}:
	default:
	}
}
