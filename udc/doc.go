// Package udc defines the USB device controller contract consumed by the
// gadget core.
//
// A [Controller] stands in for the hardware (or emulated) device controller:
// it delivers SETUP packets and bus events, hands out data endpoints through
// autoconfiguration, and owns endpoint 0. An [Endpoint] carries the
// asynchronous transfer machinery: requests are allocated against an
// endpoint, queued, completed through a callback on the controller's event
// context, and freed exactly once.
//
// The gadget core never depends on a concrete controller. The
// [github.com/mkolbe/gadgetzero/udc/pipe] package provides a named-pipe
// backed implementation for running a gadget as an ordinary process, and
// tests supply in-memory fakes.
package udc
