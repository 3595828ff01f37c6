package gadget

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestDeviceDescriptorMarshalTo(t *testing.T) {
	d := defaultDeviceDescriptor()
	d.MaxPacketSize0 = 64
	d.DeviceVersion = 0x0203

	buf := make([]byte, DeviceDescriptorSize)
	n := d.MarshalTo(buf)
	if n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}

	if buf[0] != DeviceDescriptorSize || buf[1] != DescriptorTypeDevice {
		t.Errorf("header = [%d, 0x%02X], want [18, 0x01]", buf[0], buf[1])
	}
	if v := binary.LittleEndian.Uint16(buf[2:4]); v != USBVersion {
		t.Errorf("bcdUSB = 0x%04X, want 0x%04X", v, USBVersion)
	}
	if buf[4] != ClassVendor {
		t.Errorf("bDeviceClass = 0x%02X, want 0x%02X", buf[4], ClassVendor)
	}
	if v := binary.LittleEndian.Uint16(buf[8:10]); v != VendorNum {
		t.Errorf("idVendor = 0x%04X, want 0x%04X", v, VendorNum)
	}
	if v := binary.LittleEndian.Uint16(buf[10:12]); v != ProductNum {
		t.Errorf("idProduct = 0x%04X, want 0x%04X", v, ProductNum)
	}
	if v := binary.LittleEndian.Uint16(buf[12:14]); v != 0x0203 {
		t.Errorf("bcdDevice = 0x%04X, want 0x0203", v)
	}
	if buf[14] != StringManufacturer || buf[15] != StringProduct || buf[16] != StringSerial {
		t.Errorf("string indices = [%d, %d, %d], want [25, 42, 101]",
			buf[14], buf[15], buf[16])
	}
	if buf[17] != 1 {
		t.Errorf("bNumConfigurations = %d, want 1", buf[17])
	}
}

func TestDeviceDescriptorShortBuffer(t *testing.T) {
	d := defaultDeviceDescriptor()
	if n := d.MarshalTo(make([]byte, DeviceDescriptorSize-1)); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestConfigurationDescriptorMarshalTo(t *testing.T) {
	fn := loopbackFunction(0x01)
	buf := make([]byte, ConfigurationDescriptorSize)
	n := fn.Config.MarshalTo(buf)
	if n != ConfigurationDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, ConfigurationDescriptorSize)
	}
	// The header alone carries a zero total length; ConfigBuf fills it in.
	if v := binary.LittleEndian.Uint16(buf[2:4]); v != 0 {
		t.Errorf("wTotalLength = %d, want 0", v)
	}
	if buf[5] != ConfigLoopback {
		t.Errorf("bConfigurationValue = %d, want %d", buf[5], ConfigLoopback)
	}
	if buf[7] != ConfigAttrBusPowered|ConfigAttrSelfPowered {
		t.Errorf("bmAttributes = 0x%02X, want 0xC0", buf[7])
	}
	if buf[8] != 1 {
		t.Errorf("bMaxPower = %d, want 1", buf[8])
	}
}

func TestEndpointDescriptorMarshalTo(t *testing.T) {
	e := &EndpointDescriptor{
		EndpointAddress: 0x01,
		Attributes:      EndpointTypeBulk,
		MaxPacketSize:   BulkMaxPacket,
	}
	buf := make([]byte, EndpointDescriptorSize)
	if n := e.MarshalTo(buf); n != EndpointDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, EndpointDescriptorSize)
	}
	want := []byte{7, DescriptorTypeEndpoint, 0x01, EndpointTypeBulk, 64, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Errorf("endpoint descriptor = % X, want % X", buf, want)
	}
}

func TestStringDescriptorTo(t *testing.T) {
	buf := make([]byte, 64)
	n := StringDescriptorTo(buf, longName)
	want := 2 + 2*len(longName)
	if n != want {
		t.Fatalf("StringDescriptorTo() = %d, want %d", n, want)
	}
	if buf[0] != uint8(want) || buf[1] != DescriptorTypeString {
		t.Errorf("header = [%d, 0x%02X], want [%d, 0x03]", buf[0], buf[1], want)
	}
	// UTF-16LE: 'G' then a zero high byte.
	if buf[2] != 'G' || buf[3] != 0 {
		t.Errorf("first code unit = [0x%02X, 0x%02X], want ['G', 0]", buf[2], buf[3])
	}
}

func TestStringDescriptorToSurrogatePair(t *testing.T) {
	buf := make([]byte, 16)
	// U+1F600 is outside the BMP and needs two UTF-16 code units.
	n := StringDescriptorTo(buf, "\U0001F600!")
	if n != 8 {
		t.Fatalf("StringDescriptorTo() = %d, want 8", n)
	}
	want := []byte{8, DescriptorTypeString, 0x3D, 0xD8, 0x00, 0xDE, '!', 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("descriptor = % X, want % X", buf[:n], want)
	}
}

func TestStringDescriptorToTruncatesOnPairBoundary(t *testing.T) {
	// 126 code units fit in a 255-byte descriptor. One BMP unit plus 64
	// pairs is 129, and the cut at 126 lands mid-pair; the whole last
	// pair must go rather than leave a lone high surrogate.
	s := "a" + strings.Repeat("\U0001F600", 64)
	buf := make([]byte, 256)
	n := StringDescriptorTo(buf, s)
	if n != 2+125*2 {
		t.Fatalf("StringDescriptorTo() = %d, want %d", n, 2+125*2)
	}
	if buf[0] != uint8(n) {
		t.Errorf("bLength = %d, want %d", buf[0], n)
	}
	last := binary.LittleEndian.Uint16(buf[n-2 : n])
	if last < 0xDC00 || last > 0xDFFF {
		t.Errorf("last code unit = 0x%04X, want a low surrogate", last)
	}
}

func TestStringDescriptorToShortBuffer(t *testing.T) {
	if n := StringDescriptorTo(make([]byte, 4), serial); n != 0 {
		t.Errorf("StringDescriptorTo(short) = %d, want 0", n)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	buf := make([]byte, 8)
	n := LanguageDescriptorTo(buf, LangIDUSEnglish)
	if n != 4 {
		t.Fatalf("LanguageDescriptorTo() = %d, want 4", n)
	}
	want := []byte{4, DescriptorTypeString, 0x09, 0x04}
	if !bytes.Equal(buf[:4], want) {
		t.Errorf("language descriptor = % X, want % X", buf[:4], want)
	}
}

func TestFunctionConfigBuf(t *testing.T) {
	fn := loopbackFunction(0x01)
	buf := make([]byte, ControlBufSize)
	n, err := fn.ConfigBuf(buf, DescriptorTypeConfiguration)
	if err != nil {
		t.Fatalf("ConfigBuf() error = %v", err)
	}
	wantTotal := ConfigurationDescriptorSize + InterfaceDescriptorSize + EndpointDescriptorSize
	if n != wantTotal {
		t.Fatalf("ConfigBuf() = %d, want %d", n, wantTotal)
	}
	if v := binary.LittleEndian.Uint16(buf[2:4]); int(v) != wantTotal {
		t.Errorf("wTotalLength = %d, want %d", v, wantTotal)
	}
	if buf[1] != DescriptorTypeConfiguration {
		t.Errorf("bDescriptorType = 0x%02X, want 0x02", buf[1])
	}
	// Interface follows the header, endpoint follows the interface.
	if buf[9] != InterfaceDescriptorSize || buf[10] != DescriptorTypeInterface {
		t.Errorf("interface header = [%d, 0x%02X]", buf[9], buf[10])
	}
	if buf[18] != EndpointDescriptorSize || buf[19] != DescriptorTypeEndpoint {
		t.Errorf("endpoint header = [%d, 0x%02X]", buf[18], buf[19])
	}
	if fn.TotalLength() != wantTotal {
		t.Errorf("TotalLength() = %d, want %d", fn.TotalLength(), wantTotal)
	}
}

func TestFunctionConfigBufOtherSpeed(t *testing.T) {
	fn := loopbackFunction(0x01)
	buf := make([]byte, ControlBufSize)
	n, err := fn.ConfigBuf(buf, DescriptorTypeOtherSpeedConfig)
	if err != nil {
		t.Fatalf("ConfigBuf() error = %v", err)
	}
	if buf[1] != DescriptorTypeOtherSpeedConfig {
		t.Errorf("bDescriptorType = 0x%02X, want 0x07", buf[1])
	}
	if v := binary.LittleEndian.Uint16(buf[2:4]); int(v) != n {
		t.Errorf("wTotalLength = %d, want %d", v, n)
	}
}

func TestFunctionConfigBufShortBuffer(t *testing.T) {
	fn := loopbackFunction(0x01)
	// Header fits but the children do not; nothing usable is produced.
	_, err := fn.ConfigBuf(make([]byte, ConfigurationDescriptorSize+2), DescriptorTypeConfiguration)
	if err == nil {
		t.Fatal("ConfigBuf(short) error = nil, want ErrNoSpace")
	}
}
