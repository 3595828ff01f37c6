package udc

import (
	"context"
	"sync/atomic"
)

// Speed represents the negotiated USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	default:
		return "unknown"
	}
}

// EndpointConfig describes an endpoint to the controller.
//
// The gadget passes a partially filled config (direction, transfer type,
// packet size) to [Controller.AutoConfig], which assigns a concrete address
// satisfying the constraints. The same config is later passed to
// [Endpoint.Enable] when a configuration is entered.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet as delivered by the controller.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// CompletionFunc is invoked when a queued request finishes, on the
// controller's event context. It must not block.
type CompletionFunc func(ep Endpoint, req *Request)

// Request represents one asynchronous transfer submission to an endpoint.
//
// A request is obtained from [Endpoint.AllocRequest], queued at most once,
// and returned with [Endpoint.FreeRequest] exactly once after its completion
// callback has run (or after a synchronous Queue failure). It must not be
// referenced after being freed.
type Request struct {
	Buf    []byte // Transfer buffer, owned by the request
	Length int    // Requested transfer length
	Actual int    // Bytes actually transferred, set on completion
	Status error  // Completion outcome; nil on success
	Zero   bool   // Terminate an IN transfer with a short packet

	// Complete is the completion callback. Left nil, the completion is
	// silently discarded by the controller.
	Complete CompletionFunc

	// Context is opaque storage for the function driver.
	Context any

	released uint32
}

// Release marks the request as released, reporting whether this call was the
// first. Endpoint implementations call it from FreeRequest to detect
// double-free bugs in function drivers.
func (r *Request) Release() bool {
	return atomic.CompareAndSwapUint32(&r.released, 0, 1)
}

// Released reports whether the request has been freed.
func (r *Request) Released() bool {
	return atomic.LoadUint32(&r.released) != 0
}

// Endpoint is one concrete endpoint reserved from a controller.
type Endpoint interface {
	// Name returns the controller's name for the endpoint (e.g. "ep1out").
	Name() string

	// Address returns the assigned endpoint address including direction.
	Address() uint8

	// Enable activates the endpoint with the given attributes.
	Enable(cfg EndpointConfig) error

	// Disable deactivates the endpoint. Outstanding requests complete with
	// a connection-reset class status. Disabling a disabled endpoint is a
	// no-op.
	Disable() error

	// AllocRequest allocates a request with a buffer of the given length.
	AllocRequest(length int) (*Request, error)

	// FreeRequest releases a request and its buffer.
	FreeRequest(req *Request)

	// Queue submits a request. The outcome arrives later through the
	// request's completion callback; Queue itself fails only synchronously
	// (disabled endpoint, invalid request).
	Queue(req *Request) error

	// Dequeue forces an in-flight request to complete with a
	// connection-reset status. It is a no-op if the request already
	// completed.
	Dequeue(req *Request) error

	// Halt stalls the endpoint.
	Halt() error
}

// Controller is the USB device controller the gadget binds to. It owns
// endpoint 0, delivers SETUP packets and bus events, and hands out data
// endpoints via autoconfiguration.
type Controller interface {
	// Name returns the controller name (e.g. "dummy_udc", "pipe").
	Name() string

	// Number returns a small controller code used to derive bcdDevice,
	// or a negative value when the controller is not recognized.
	Number() int

	// MaxPacketSize0 returns the packet size of endpoint 0.
	MaxPacketSize0() uint16

	// SetSelfPowered records that the bound function is self-powered.
	SetSelfPowered(selfPowered bool)

	// Init prepares the controller. The context bounds initialization only.
	Init(ctx context.Context) error

	// Start attaches the controller to the bus.
	Start() error

	// Stop detaches from the bus and releases controller resources.
	Stop() error

	// AutoConfig reserves an endpoint satisfying the config's direction,
	// transfer type, and packet size, writing the assigned address back
	// into cfg. Returns pkg.ErrNoEndpoint if nothing matches.
	AutoConfig(cfg *EndpointConfig) (Endpoint, error)

	// EP0 returns the control endpoint, used to queue control responses.
	EP0() Endpoint

	// ReadSetup blocks until the host sends a SETUP packet or the context
	// is cancelled. Bus events surface as sentinel errors: pkg.ErrReset
	// for a bus reset, pkg.ErrDisconnected when the host goes away.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// StallEP0 answers the current control transaction with a protocol
	// stall.
	StallEP0() error

	// Speed returns the negotiated connection speed.
	Speed() Speed
}
