package pipe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/udc"
)

// MaxEndpoints is the number of data endpoint addresses per direction (1-15).
const MaxEndpoints = 15

// MaxPacketSize is the largest payload one framed message can carry.
const MaxPacketSize = 512

// Message types for the pipe protocol (must match the host side).
const (
	msgSetup      = 0x01 // SETUP packet from host
	msgData       = 0x02 // DATA payload
	msgAck        = 0x03 // ACK response
	msgStall      = 0x05 // STALL response
	msgReset      = 0x12 // Port reset
	msgAddress    = 0x13 // Set device address
	msgDisconnect = 0x14 // Host-side detach
)

// headerSize is the framing overhead: type (1) + length (2, little-endian).
const headerSize = 3

// Connection signal bytes (one-way signaling to the host).
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

// Pipe file names inside the device directory.
const (
	pipeHostToDevice = "host_to_device"
	pipeDeviceToHost = "device_to_host"
	pipeConnection   = "connection"
)

// controllerNumber is the code this controller contributes to bcdDevice.
const controllerNumber = 1

// ep0MaxPacket is the control endpoint packet size the controller reports.
const ep0MaxPacket = 64

// Controller implements [udc.Controller] over named pipes. Each instance
// creates a unique subdirectory (device-{uuid}/) under the bus directory so
// several devices can share one bus and hot-plug independently.
//
// EP0 traffic and bus events travel over a pair of control pipes; each data
// endpoint reserved through AutoConfig gets its own pipe, created on demand.
type Controller struct {
	busDir    string
	deviceDir string
	uuid      string

	hostRead  *os.File // SETUP packets and bus events from the host
	hostWrite *os.File // EP0 responses to the host
	connWrite *os.File // Connection status signaling

	ep0 *endpoint

	mutex       sync.Mutex
	initDone    bool
	selfPowered bool
	address     uint8
	inUse       [MaxEndpoints + 1]bool // Reserved endpoint numbers
	endpoints   []*endpoint

	closeCh   chan struct{}
	closeOnce sync.Once

	readBuf [MaxPacketSize + headerSize]byte
}

// New returns a controller rooted at busDir. Call Init before anything else.
func New(busDir string) *Controller {
	c := &Controller{
		busDir:  busDir,
		closeCh: make(chan struct{}),
	}
	c.ep0 = &endpoint{ctrl: c, name: "ep0", addr: 0, control: true}
	return c
}

// Name returns the controller name.
func (c *Controller) Name() string { return "pipe" }

// Number returns the controller code used to derive bcdDevice.
func (c *Controller) Number() int { return controllerNumber }

// MaxPacketSize0 returns the EP0 packet size.
func (c *Controller) MaxPacketSize0() uint16 { return ep0MaxPacket }

// SetSelfPowered records the bound function's power source.
func (c *Controller) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	c.selfPowered = selfPowered
	c.mutex.Unlock()
}

// Speed returns the emulated connection speed.
func (c *Controller) Speed() udc.Speed { return udc.SpeedFull }

// DeviceDir returns the per-device pipe directory, valid after Init.
func (c *Controller) DeviceDir() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.deviceDir
}

func generateUUID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return hex.EncodeToString(uuid[:]), nil
}

// Init creates the device directory and control pipes.
func (c *Controller) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.initDone {
		return pkg.ErrBusy
	}

	uuid, err := generateUUID()
	if err != nil {
		return fmt.Errorf("generate uuid: %w", err)
	}
	c.uuid = uuid
	c.deviceDir = filepath.Join(c.busDir, "device-"+uuid)

	if err := os.MkdirAll(c.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	for _, name := range []string{pipeHostToDevice, pipeDeviceToHost, pipeConnection} {
		if err := c.createPipe(name); err != nil {
			c.cleanupLocked()
			return err
		}
	}

	// O_RDWR keeps the pipe open without a peer; O_NONBLOCK enables
	// deadline-based reads.
	if c.connWrite, err = c.openPipe(pipeConnection); err != nil {
		c.cleanupLocked()
		return err
	}
	if c.hostWrite, err = c.openPipe(pipeDeviceToHost); err != nil {
		c.cleanupLocked()
		return err
	}
	if c.hostRead, err = c.openPipe(pipeHostToDevice); err != nil {
		c.cleanupLocked()
		return err
	}

	c.initDone = true
	pkg.LogInfo(pkg.ComponentUDC, "pipe controller initialized",
		"busDir", c.busDir, "deviceDir", c.deviceDir)
	return nil
}

// Start signals device attach to the host.
func (c *Controller) Start() error {
	c.mutex.Lock()
	if !c.initDone {
		c.mutex.Unlock()
		return pkg.ErrNotConfigured
	}
	conn := c.connWrite
	c.mutex.Unlock()

	if _, err := conn.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentUDC, "attach signal failed", "err", err)
	}
	pkg.LogInfo(pkg.ComponentUDC, "pipe controller started")
	return nil
}

// Stop signals detach, tears down all endpoints, and removes the device
// directory.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	if c.connWrite != nil {
		c.connWrite.Write([]byte{sigDisconnect})
	}
	eps := c.endpoints
	c.endpoints = nil
	c.mutex.Unlock()

	c.closeOnce.Do(func() { close(c.closeCh) })

	for _, ep := range eps {
		ep.Disable()
	}
	c.ep0.abortAll()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cleanupLocked()
	c.initDone = false
	pkg.LogInfo(pkg.ComponentUDC, "pipe controller stopped")
	return nil
}

// AutoConfig reserves a data endpoint and creates its pipe.
func (c *Controller) AutoConfig(cfg *udc.EndpointConfig) (udc.Endpoint, error) {
	if cfg.TransferType() == 0 { // Control endpoints are not reservable
		return nil, pkg.ErrNoEndpoint
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.initDone {
		return nil, pkg.ErrNotConfigured
	}

	num := 0
	for i := 1; i <= MaxEndpoints; i++ {
		if !c.inUse[i] {
			num = i
			break
		}
	}
	if num == 0 {
		return nil, pkg.ErrNoEndpoint
	}

	dir := "out"
	addr := uint8(num)
	if cfg.IsIn() {
		dir = "in"
		addr |= 0x80
	}
	name := fmt.Sprintf("ep%d%s", num, dir)

	if err := c.createPipe(name); err != nil {
		return nil, err
	}
	f, err := c.openPipe(name)
	if err != nil {
		os.Remove(filepath.Join(c.deviceDir, name))
		return nil, err
	}

	c.inUse[num] = true
	cfg.Address = addr
	ep := &endpoint{ctrl: c, name: name, addr: addr, file: f}
	c.endpoints = append(c.endpoints, ep)
	pkg.LogDebug(pkg.ComponentUDC, "endpoint reserved",
		"endpoint", name, "address", addr)
	return ep, nil
}

// EP0 returns the control endpoint.
func (c *Controller) EP0() udc.Endpoint { return c.ep0 }

// ReadSetup blocks until the host sends a SETUP packet. Bus events surface
// as sentinel errors; address assignment is handled here, below the gadget.
func (c *Controller) ReadSetup(ctx context.Context, out *udc.SetupPacket) error {
	c.mutex.Lock()
	f := c.hostRead
	c.mutex.Unlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}

	for {
		msgType, payload, err := c.readMessage(ctx, f)
		if err != nil {
			return err
		}

		switch msgType {
		case msgSetup:
			if !udc.ParseSetupPacket(payload, out) {
				return pkg.ErrInvalidRequest
			}
			return nil

		case msgReset:
			c.sendControl(msgAck, nil)
			return pkg.ErrReset

		case msgDisconnect:
			return pkg.ErrDisconnected

		case msgAddress:
			if len(payload) >= 1 {
				c.mutex.Lock()
				c.address = payload[0]
				c.mutex.Unlock()
				c.sendControl(msgAck, nil)
				pkg.LogDebug(pkg.ComponentUDC, "address assigned",
					"address", payload[0])
			}

		default:
			pkg.LogWarn(pkg.ComponentUDC, "unexpected message on control pipe",
				"type", msgType)
		}
	}
}

// StallEP0 answers the current control transaction with a protocol stall.
func (c *Controller) StallEP0() error {
	return c.sendControl(msgStall, nil)
}

func (c *Controller) createPipe(name string) error {
	path := filepath.Join(c.deviceDir, name)
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

func (c *Controller) openPipe(name string) (*os.File, error) {
	path := filepath.Join(c.deviceDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (c *Controller) cleanupLocked() {
	for _, f := range []**os.File{&c.hostRead, &c.hostWrite, &c.connWrite} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	for i := range c.inUse {
		c.inUse[i] = false
	}
	if c.deviceDir != "" {
		os.RemoveAll(c.deviceDir)
	}
}

// readMessage reads one framed message from f. The returned payload aliases
// the controller's read buffer and is only valid until the next call.
func (c *Controller) readMessage(ctx context.Context, f *os.File) (byte, []byte, error) {
	header := c.readBuf[:headerSize]
	if err := c.readFull(ctx, f, header); err != nil {
		return 0, nil, err
	}
	msgType := header[0]
	length := int(binary.LittleEndian.Uint16(header[1:3]))
	if length > MaxPacketSize {
		return 0, nil, pkg.ErrInvalidRequest
	}
	payload := c.readBuf[headerSize : headerSize+length]
	if length > 0 {
		if err := c.readFull(ctx, f, payload); err != nil {
			return 0, nil, err
		}
	}
	return msgType, payload, nil
}

// readFull reads exactly len(buf) bytes, polling with short deadlines so
// cancellation and controller shutdown are observed.
func (c *Controller) readFull(ctx context.Context, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return pkg.ErrShutdown
		default:
		}

		f.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := f.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil && !os.IsTimeout(err) {
			return err
		}
	}
	return nil
}

// sendControl writes one framed message to the device-to-host pipe.
func (c *Controller) sendControl(msgType byte, data []byte) error {
	c.mutex.Lock()
	f := c.hostWrite
	c.mutex.Unlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}
	return writeMessage(f, msgType, data)
}

// writeMessage frames and writes one message, handling partial writes.
func writeMessage(f *os.File, msgType byte, data []byte) error {
	if len(data) > MaxPacketSize {
		return pkg.ErrInvalidRequest
	}
	buf := make([]byte, headerSize+len(data))
	buf[0] = msgType
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(data)))
	copy(buf[headerSize:], data)

	written := 0
	for written < len(buf) {
		n, err := f.Write(buf[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var _ udc.Controller = (*Controller)(nil)
