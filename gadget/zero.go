package gadget

// Identity constants for the zero gadget. These are part of the wire
// contract and must not change.
const (
	// VendorNum is the vendor ID presented to the host.
	VendorNum = 0xefef

	// ProductNum is the product ID presented to the host.
	ProductNum = 0x0036

	// USBVersion is the bcdUSB value (USB 1.1).
	USBVersion = 0x0110

	// ConfigLoopback is the configuration value of the supported
	// (loopback/sink) configuration.
	ConfigLoopback = 2
)

// String descriptor indices.
const (
	StringManufacturer = 25
	StringProduct      = 42
	StringSerial       = 101
	StringSourceSink   = 248
	StringLoopback     = 249
)

// Catalog strings.
const (
	shortName  = "zero"
	longName   = "Gadget Zero"
	loopback   = "loop input to output"
	sourceSink = "source and sink data"

	// serial is long enough to need more than one full-speed packet.
	serial = "0123456789.0123456789.0123456789"
)

// Buffer sizes.
const (
	// ControlBufSize is the EP0 response buffer capacity. It must be big
	// enough to hold the largest descriptor the gadget can emit.
	ControlBufSize = 256

	// RecvBufSize is the capacity of one bulk receive, and of the device
	// context's receive buffer.
	RecvBufSize = 128

	// BulkMaxPacket is the full-speed bulk endpoint packet size.
	BulkMaxPacket = 64
)

// defaultDeviceDescriptor returns the device descriptor template. Bind fills
// in DeviceVersion and MaxPacketSize0 from the controller.
func defaultDeviceDescriptor() DeviceDescriptor {
	return DeviceDescriptor{
		Length:            DeviceDescriptorSize,
		DescriptorType:    DescriptorTypeDevice,
		USBVersion:        USBVersion,
		DeviceClass:       ClassVendor,
		VendorID:          VendorNum,
		ProductID:         ProductNum,
		ManufacturerIndex: StringManufacturer,
		ProductIndex:      StringProduct,
		SerialNumberIndex: StringSerial,
		NumConfigurations: 1,
	}
}

// defaultStrings returns the string table for the zero gadget. The
// manufacturer entry is filled in at bind time from the runtime and the
// controller name.
func defaultStrings() *StringTable {
	return &StringTable{
		Language: LangIDUSEnglish,
		Strings: []String{
			{ID: StringProduct, Value: longName},
			{ID: StringSerial, Value: serial},
			{ID: StringLoopback, Value: loopback},
			{ID: StringSourceSink, Value: sourceSink},
		},
	}
}

// loopbackFunction builds the loopback/sink function: one vendor-specific
// interface with a single bulk-OUT endpoint. sinkAddr is the endpoint
// address assigned by controller autoconfiguration.
func loopbackFunction(sinkAddr uint8) *Function {
	intf := &InterfaceDescriptor{
		Length:         InterfaceDescriptorSize,
		DescriptorType: DescriptorTypeInterface,
		NumEndpoints:   1,
		InterfaceClass: ClassVendor,
		InterfaceIndex: StringLoopback,
	}
	sink := &EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: sinkAddr,
		Attributes:      EndpointTypeBulk,
		MaxPacketSize:   BulkMaxPacket,
	}
	return &Function{
		Config: ConfigurationDescriptor{
			Length:             ConfigurationDescriptorSize,
			DescriptorType:     DescriptorTypeConfiguration,
			NumInterfaces:      1,
			ConfigurationValue: ConfigLoopback,
			ConfigurationIndex: StringLoopback,
			Attributes:         ConfigAttrBusPowered | ConfigAttrSelfPowered,
			MaxPower:           1, // self-powered
		},
		Descriptors: []Descriptor{intf, sink},
	}
}
