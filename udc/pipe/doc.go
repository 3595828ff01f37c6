// Package pipe implements a [udc.Controller] over named pipes.
//
// The controller is intended for testing and simulation: a host-side process
// plays the USB host by reading and writing the same pipes, enabling
// end-to-end exercise of the gadget without hardware.
//
// # Architecture
//
// Each controller instance creates a unique subdirectory under a shared bus
// directory:
//
//	/tmp/usb-bus/                    # Bus directory (shared with host)
//	└── device-{uuid}/               # Device subdirectory (unique per device)
//	    ├── connection               # Attach/detach signaling (device → host)
//	    ├── host_to_device           # SETUP packets and bus events
//	    ├── device_to_host           # EP0 responses
//	    └── ep1out, ...              # One pipe per reserved data endpoint
//
// Data endpoint pipes are created on demand by AutoConfig rather than up
// front, so the directory only carries the endpoints the bound function
// actually uses.
//
// # Framing
//
// All pipe traffic is framed as [type, len_lo, len_hi, payload...]. SETUP
// packets, DATA payloads, ACK/STALL responses, and bus events (reset,
// address, disconnect) each carry a distinct type byte. Bus reset and
// disconnect surface from ReadSetup as pkg.ErrReset and pkg.ErrDisconnected;
// address assignment is consumed by the controller itself, below the
// function driver.
//
// # Request Servicing
//
// Each queued [udc.Request] is serviced by its own goroutine: OUT requests
// block reading one framed DATA message, IN requests write their payload.
// Dequeue and endpoint disable cancel the goroutine, which then delivers a
// reset- or shutdown-class completion through the request callback.
package pipe
