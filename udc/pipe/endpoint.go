package pipe

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// endpoint implements [udc.Endpoint] over one named pipe. Queued requests
// are serviced by a goroutine per submission; its completion callback runs
// on that goroutine.
type endpoint struct {
	ctrl    *Controller
	name    string
	addr    uint8
	control bool
	file    *os.File

	mutex    sync.Mutex
	enabled  bool
	maxPkt   uint16
	inflight map[*udc.Request]chan struct{} // Request -> cancel channel
}

func (e *endpoint) Name() string   { return e.name }
func (e *endpoint) Address() uint8 { return e.addr }

func (e *endpoint) isIn() bool { return e.addr&0x80 != 0 }

// Enable activates the endpoint. EP0 is always enabled and needs no call.
func (e *endpoint) Enable(cfg udc.EndpointConfig) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.enabled {
		return pkg.ErrBusy
	}
	e.enabled = true
	e.maxPkt = cfg.MaxPacketSize
	pkg.LogDebug(pkg.ComponentUDC, "endpoint enabled",
		"endpoint", e.name, "maxpacket", cfg.MaxPacketSize)
	return nil
}

// Disable deactivates the endpoint, forcing outstanding requests to
// complete with a connection-reset class status.
func (e *endpoint) Disable() error {
	e.mutex.Lock()
	if !e.enabled {
		e.mutex.Unlock()
		return nil
	}
	e.enabled = false
	e.mutex.Unlock()

	e.abortAll()
	pkg.LogDebug(pkg.ComponentUDC, "endpoint disabled", "endpoint", e.name)
	return nil
}

// AllocRequest allocates a request with a buffer of the given length.
func (e *endpoint) AllocRequest(length int) (*udc.Request, error) {
	if length < 0 || length > MaxPacketSize {
		return nil, pkg.ErrNoMemory
	}
	return &udc.Request{Buf: make([]byte, length)}, nil
}

// FreeRequest releases a request.
func (e *endpoint) FreeRequest(req *udc.Request) {
	if !req.Release() {
		pkg.LogError(pkg.ComponentUDC, "request freed twice",
			"endpoint", e.name)
	}
}

// Queue submits a request. The transfer runs on its own goroutine and the
// outcome is delivered through the request's completion callback.
func (e *endpoint) Queue(req *udc.Request) error {
	if req == nil || req.Length > len(req.Buf) {
		return pkg.ErrInvalidRequest
	}

	e.mutex.Lock()
	if !e.control && !e.enabled {
		e.mutex.Unlock()
		return pkg.ErrEndpointDisabled
	}
	if e.inflight == nil {
		e.inflight = make(map[*udc.Request]chan struct{})
	}
	if _, ok := e.inflight[req]; ok {
		e.mutex.Unlock()
		return pkg.ErrBusy
	}
	cancel := make(chan struct{})
	e.inflight[req] = cancel
	e.mutex.Unlock()

	go e.service(req, cancel)
	return nil
}

// Dequeue forces an in-flight request to complete with a reset status.
func (e *endpoint) Dequeue(req *udc.Request) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	cancel, ok := e.inflight[req]
	if !ok {
		return nil
	}
	select {
	case <-cancel:
	default:
		close(cancel)
	}
	return nil
}

// Halt reports a stall for the endpoint. On EP0 this answers the current
// control transaction.
func (e *endpoint) Halt() error {
	if e.control {
		return e.ctrl.StallEP0()
	}
	pkg.LogDebug(pkg.ComponentUDC, "endpoint halted", "endpoint", e.name)
	return nil
}

// abortAll cancels every outstanding request. Each completes through its
// service goroutine with a reset status, or a shutdown status if the
// controller is stopping.
func (e *endpoint) abortAll() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for _, cancel := range e.inflight {
		select {
		case <-cancel:
		default:
			close(cancel)
		}
	}
}

// service performs the transfer for one queued request.
func (e *endpoint) service(req *udc.Request, cancel chan struct{}) {
	var actual int
	var err error
	if e.control || e.isIn() {
		actual, err = e.serviceIn(req, cancel)
	} else {
		actual, err = e.serviceOut(req, cancel)
	}

	e.mutex.Lock()
	delete(e.inflight, req)
	e.mutex.Unlock()

	req.Actual = actual
	req.Status = err
	if req.Complete != nil {
		req.Complete(e, req)
	}
}

// serviceIn writes the request payload toward the host as framed DATA. A
// zero-length terminating packet follows when the request asks for one.
func (e *endpoint) serviceIn(req *udc.Request, cancel chan struct{}) (int, error) {
	select {
	case <-cancel:
		return 0, pkg.ErrConnReset
	case <-e.ctrl.closeCh:
		return 0, pkg.ErrShutdown
	default:
	}

	f := e.file
	write := writeMessage
	if e.control {
		// EP0 responses share the device-to-host control pipe.
		write = func(_ *os.File, msgType byte, data []byte) error {
			return e.ctrl.sendControl(msgType, data)
		}
	}

	if err := write(f, msgData, req.Buf[:req.Length]); err != nil {
		return 0, err
	}
	if req.Zero && req.Length > 0 {
		if err := write(f, msgData, nil); err != nil {
			return req.Length, err
		}
	}
	return req.Length, nil
}

// serviceOut reads one framed DATA message from the host into the request
// buffer.
func (e *endpoint) serviceOut(req *udc.Request, cancel chan struct{}) (int, error) {
	var header [headerSize]byte
	if err := e.readFull(header[:], cancel); err != nil {
		return 0, err
	}
	if header[0] != msgData {
		return 0, pkg.ErrInvalidRequest
	}
	length := int(binary.LittleEndian.Uint16(header[1:3]))
	if length > MaxPacketSize {
		return 0, pkg.ErrInvalidRequest
	}
	if length > req.Length {
		// Drain the payload so the pipe stays framed, then report the
		// overflow.
		var sink [MaxPacketSize]byte
		if err := e.readFull(sink[:length], cancel); err != nil {
			return 0, err
		}
		return 0, pkg.ErrOverflow
	}
	if length == 0 {
		return 0, nil
	}
	if err := e.readFull(req.Buf[:length], cancel); err != nil {
		return 0, err
	}
	return length, nil
}

// readFull reads exactly len(buf) bytes from the endpoint pipe, observing
// cancellation and controller shutdown.
func (e *endpoint) readFull(buf []byte, cancel chan struct{}) error {
	total := 0
	for total < len(buf) {
		select {
		case <-cancel:
			return pkg.ErrConnReset
		case <-e.ctrl.closeCh:
			return pkg.ErrShutdown
		default:
		}

		e.file.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := e.file.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil && !os.IsTimeout(err) {
			return err
		}
	}
	return nil
}

var _ udc.Endpoint = (*endpoint)(nil)
