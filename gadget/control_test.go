package gadget

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/mkolbe/gadgetzero/pkg"
)

func TestGetDeviceDescriptor(t *testing.T) {
	g, ctrl := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, DeviceDescriptorSize)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}

	req := ctrl.ep0.lastQueued()
	if req == nil {
		t.Fatal("no EP0 response queued")
	}
	if req.Length != DeviceDescriptorSize {
		t.Errorf("response length = %d, want %d", req.Length, DeviceDescriptorSize)
	}
	if req.Zero {
		t.Error("Zero = true for exact-length response")
	}
	// bcdDevice encodes the controller code.
	if v := binary.LittleEndian.Uint16(req.Buf[12:14]); v != 0x0200+uint16(ctrl.number) {
		t.Errorf("bcdDevice = 0x%04X, want 0x%04X", v, 0x0200+ctrl.number)
	}
	if req.Buf[7] != uint8(ctrl.mps0) {
		t.Errorf("bMaxPacketSize0 = %d, want %d", req.Buf[7], ctrl.mps0)
	}
}

func TestGetDeviceDescriptorTruncated(t *testing.T) {
	g, ctrl := boundGadget(t)

	// The host's first GET_DESCRIPTOR typically asks for 8 bytes.
	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 8)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}

	req := ctrl.ep0.lastQueued()
	if req.Length != 8 {
		t.Errorf("response length = %d, want 8", req.Length)
	}
	if req.Zero {
		t.Error("Zero = true for wLength-limited response")
	}
}

func TestGetConfigurationDescriptor(t *testing.T) {
	g, ctrl := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeConfiguration, 0, 255)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}

	req := ctrl.ep0.lastQueued()
	wantTotal := ConfigurationDescriptorSize + InterfaceDescriptorSize + EndpointDescriptorSize
	if req.Length != wantTotal {
		t.Errorf("response length = %d, want %d", req.Length, wantTotal)
	}
	if v := binary.LittleEndian.Uint16(req.Buf[2:4]); int(v) != wantTotal {
		t.Errorf("wTotalLength = %d, want %d", v, wantTotal)
	}
	if !req.Zero {
		t.Error("Zero = false for response shorter than wLength")
	}
}

func TestGetStringDescriptor(t *testing.T) {
	g, ctrl := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeString, StringProduct, 255)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}

	req := ctrl.ep0.lastQueued()
	if want := 2 + 2*len(longName); req.Length != want {
		t.Errorf("response length = %d, want %d", req.Length, want)
	}
	if req.Buf[2] != 'G' || req.Buf[3] != 0 {
		t.Errorf("payload start = % X, want UTF-16LE %q", req.Buf[2:4], longName)
	}
}

func TestGetStringDescriptorUnknown(t *testing.T) {
	g, _ := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeString, 7, 255)
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrNotFound) {
		t.Errorf("handleSetup() error = %v, want ErrNotFound", err)
	}
}

func TestGetDescriptorWrongDirection(t *testing.T) {
	g, _ := boundGadget(t)

	setup := SetupPacket{
		RequestType: RequestDirectionHostToDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(DescriptorTypeDevice) << 8,
		Length:      18,
	}
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("handleSetup() error = %v, want ErrNotSupported", err)
	}
}

func TestGetDescriptorUnknownType(t *testing.T) {
	g, _ := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDeviceQualifier, 0, 10)
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("handleSetup() error = %v, want ErrNotSupported", err)
	}
}

func TestSetConfiguration(t *testing.T) {
	g, ctrl := boundGadget(t)

	var setup SetupPacket
	SetConfigurationSetup(&setup, ConfigLoopback)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}
	if g.State() != Configured {
		t.Errorf("State() = %v, want Configured", g.State())
	}
	if !ctrl.out.enabled {
		t.Error("sink endpoint not enabled")
	}

	req := ctrl.ep0.lastQueued()
	if req == nil || req.Length != 0 {
		t.Fatalf("status stage = %+v, want zero-length response", req)
	}
	ctrl.ep0.complete(req, nil, 0)

	// Value 0 deconfigures.
	SetConfigurationSetup(&setup, 0)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup(0) error = %v", err)
	}
	if g.State() != Unconfigured {
		t.Errorf("State() = %v, want Unconfigured", g.State())
	}
	if ctrl.out.enabled {
		t.Error("sink endpoint still enabled after deconfigure")
	}
}

func TestSetConfigurationUnsupportedValue(t *testing.T) {
	g, ctrl := configuredGadget(t)

	// A value the gadget does not implement deconfigures rather than
	// stalling.
	var setup SetupPacket
	SetConfigurationSetup(&setup, 5)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup(5) error = %v", err)
	}
	if g.State() != Unconfigured {
		t.Errorf("State() = %v, want Unconfigured", g.State())
	}
	if req := ctrl.ep0.lastQueued(); req == nil || req.Length != 0 {
		t.Error("missing zero-length status response")
	}
}

func TestSetConfigurationIdempotent(t *testing.T) {
	g, ctrl := configuredGadget(t)

	var setup SetupPacket
	SetConfigurationSetup(&setup, ConfigLoopback)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}
	if g.State() != Configured {
		t.Errorf("State() = %v, want Configured", g.State())
	}
	ctrl.ep0.complete(ctrl.ep0.lastQueued(), nil, 0)
}

func TestSetConfigurationBadRequestType(t *testing.T) {
	g, _ := boundGadget(t)

	setup := SetupPacket{
		RequestType: RequestRecipientInterface,
		Request:     RequestSetConfiguration,
		Value:       ConfigLoopback,
	}
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("handleSetup() error = %v, want ErrNotSupported", err)
	}
}

func TestSetConfigurationEnableFailure(t *testing.T) {
	g, ctrl := boundGadget(t)
	ctrl.out.enableErr = pkg.ErrEndpointDisabled

	var setup SetupPacket
	SetConfigurationSetup(&setup, ConfigLoopback)
	if err := g.handleSetup(&setup); err == nil {
		t.Fatal("handleSetup() error = nil, want enable failure")
	}
	if g.State() != Unconfigured {
		t.Errorf("State() = %v, want Unconfigured", g.State())
	}
}

func TestUnknownRequestStalls(t *testing.T) {
	g, _ := boundGadget(t)

	setup := SetupPacket{
		RequestType: RequestDirectionDeviceToHost,
		Request:     RequestGetStatus,
		Length:      2,
	}
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("handleSetup() error = %v, want ErrNotSupported", err)
	}
}

func TestControlSingleBuffered(t *testing.T) {
	g, ctrl := boundGadget(t)

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 18)
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v", err)
	}

	// The response is still in flight; a second request must not touch
	// the shared buffer.
	if err := g.handleSetup(&setup); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("handleSetup() while busy error = %v, want ErrBusy", err)
	}

	ctrl.ep0.complete(ctrl.ep0.lastQueued(), nil, DeviceDescriptorSize)
	if err := g.handleSetup(&setup); err != nil {
		t.Errorf("handleSetup() after completion error = %v", err)
	}
}

func TestControlQueueFailure(t *testing.T) {
	g, ctrl := boundGadget(t)
	ctrl.ep0.queueErr = pkg.ErrEndpointDisabled

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 18)
	// A queue failure is not a protocol error; the loop must not stall.
	if err := g.handleSetup(&setup); err != nil {
		t.Fatalf("handleSetup() error = %v, want nil", err)
	}

	// The response buffer was reclaimed.
	ctrl.ep0.queueErr = nil
	if err := g.handleSetup(&setup); err != nil {
		t.Errorf("handleSetup() after failure error = %v", err)
	}
}
