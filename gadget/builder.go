package gadget

import (
	"encoding/binary"

	"github.com/mkolbe/gadgetzero/pkg"
)

// Function groups a configuration header with the interface and endpoint
// descriptors that follow it on the wire.
type Function struct {
	Config      ConfigurationDescriptor
	Descriptors []Descriptor // Interfaces and endpoints, in wire order
}

// ConfigBuf serializes the whole configuration into buf: the 9-byte header
// followed by every child descriptor, with wTotalLength computed over the
// result. descType is written as the header's bDescriptorType so the same
// configuration can answer both CONFIGURATION and OTHER_SPEED_CONFIGURATION
// requests. Returns the total number of bytes written, or pkg.ErrNoSpace if
// buf cannot hold the complete configuration; nothing partial is produced.
func (f *Function) ConfigBuf(buf []byte, descType uint8) (int, error) {
	n := f.Config.MarshalTo(buf)
	if n == 0 {
		return 0, pkg.ErrNoSpace
	}
	for _, d := range f.Descriptors {
		w := d.MarshalTo(buf[n:])
		if w == 0 {
			return 0, pkg.ErrNoSpace
		}
		n += w
	}
	buf[1] = descType
	binary.LittleEndian.PutUint16(buf[2:4], uint16(n))
	return n, nil
}

// TotalLength returns the wTotalLength the configuration will report.
func (f *Function) TotalLength() int {
	n := ConfigurationDescriptorSize
	for _, d := range f.Descriptors {
		switch d.(type) {
		case *InterfaceDescriptor:
			n += InterfaceDescriptorSize
		case *EndpointDescriptor:
			n += EndpointDescriptorSize
		}
	}
	return n
}

// buildDescriptor serializes the descriptor named by a GET_DESCRIPTOR
// request into buf. The gadget has a single configuration, so only index 0
// is valid for device and configuration types. Returns the descriptor
// length before any wLength truncation.
func (g *Gadget) buildDescriptor(descType, index uint8, buf []byte) (int, error) {
	switch descType {
	case DescriptorTypeDevice:
		if index != 0 {
			return 0, pkg.ErrNotFound
		}
		n := g.devDesc.MarshalTo(buf)
		if n == 0 {
			return 0, pkg.ErrNoSpace
		}
		return n, nil

	case DescriptorTypeConfiguration, DescriptorTypeOtherSpeedConfig:
		if index != 0 {
			return 0, pkg.ErrNotFound
		}
		return g.fn.ConfigBuf(buf, descType)

	case DescriptorTypeString:
		return g.strings.MarshalString(index, buf)

	default:
		return 0, pkg.ErrNotSupported
	}
}
