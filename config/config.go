// Package config loads the gadgetzero configuration file.
//
// The file is INI-formatted with two sections:
//
//	[gadget]
//	bus-dir       = /tmp/usb-bus
//	vendor-id     = 0xefef
//	product-id    = 0x0036
//	serial-number = 0123456789.0123456789.0123456789
//
//	[log]
//	level  = warn
//	format = text
//
// Every key is optional; a missing file yields the defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/mkolbe/gadgetzero/gadget"
	"github.com/mkolbe/gadgetzero/pkg"
)

// DefaultBusDir is the bus directory used when none is configured.
const DefaultBusDir = "/tmp/usb-bus"

// Config is the program configuration.
type Config struct {
	BusDir       string        // Pipe bus directory shared with the host
	VendorID     uint16        // idVendor override
	ProductID    uint16        // idProduct override
	SerialNumber string        // iSerialNumber override; empty keeps the default
	LogLevel     slog.Level    // Minimum log level
	LogFormat    pkg.LogFormat // Log output format
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BusDir:    DefaultBusDir,
		VendorID:  gadget.VendorNum,
		ProductID: gadget.ProductNum,
		LogLevel:  slog.LevelWarn,
		LogFormat: pkg.LogFormatText,
	}
}

// Load reads the configuration from path, falling back to defaults for any
// key the file does not set. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	inifile, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if section, _ := inifile.GetSection("gadget"); section != nil {
		if v := loadString(section, "bus-dir"); v != "" {
			c.BusDir = v
		}
		if err := loadID(section, "vendor-id", &c.VendorID); err != nil {
			return nil, err
		}
		if err := loadID(section, "product-id", &c.ProductID); err != nil {
			return nil, err
		}
		c.SerialNumber = loadString(section, "serial-number")
	}

	if section, _ := inifile.GetSection("log"); section != nil {
		if v := loadString(section, "level"); v != "" {
			level, err := parseLevel(v)
			if err != nil {
				return nil, err
			}
			c.LogLevel = level
		}
		if v := loadString(section, "format"); v != "" {
			format, err := parseFormat(v)
			if err != nil {
				return nil, err
			}
			c.LogFormat = format
		}
	}

	return c, nil
}

// Apply pushes the logging settings into the gadget stack.
func (c *Config) Apply() {
	pkg.SetLogFormat(c.LogFormat)
	pkg.SetLogLevel(c.LogLevel)
}

// loadString returns a key's value, or "" when absent.
func loadString(section *ini.Section, name string) string {
	if key, _ := section.GetKey(name); key != nil {
		return key.String()
	}
	return ""
}

// loadID parses a 16-bit USB identifier, accepting 0x-prefixed hex or
// decimal.
func loadID(section *ini.Section, name string, out *uint16) error {
	key, _ := section.GetKey(name)
	if key == nil {
		return nil
	}
	s := key.String()
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	*out = uint16(v)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: level: unknown value %q", s)
}

func parseFormat(s string) (pkg.LogFormat, error) {
	switch strings.ToLower(s) {
	case "text":
		return pkg.LogFormatText, nil
	case "json":
		return pkg.LogFormatJSON, nil
	}
	return 0, fmt.Errorf("config: format: unknown value %q", s)
}
