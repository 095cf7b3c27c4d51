// Package bridge moves command frames across the SPI bus that links the host
// to the potentiometer chain.
package bridge

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"
	c "lautenbacher.net/potchain/config"
)

// Transport is a synchronous full-duplex SPI link.
type Transport interface {
	// Transfer clocks tx out on MOSI and returns at least rxLen bytes read
	// back on MISO. It blocks until the bridge reports completion and never
	// retries a failed transfer.
	Transfer(tx []byte, rxLen int) ([]byte, error)

	// Close releases the underlying device handle.
	Close() error
}

// StatusError is a non-success status code reported by the bridge.
type StatusError struct {
	Op   string
	Code byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Op, statusName(e.Code), e.Code)
}

type opener func(conf *c.Config, frameLen int) (Transport, error)

var backends = map[string]opener{
	c.BridgeMCP2210: func(conf *c.Config, frameLen int) (Transport, error) {
		return OpenMCP2210(conf.Bridge, frameLen)
	},
	c.BridgeRPIO: func(conf *c.Config, frameLen int) (Transport, error) {
		return OpenRPIO(conf.Bridge)
	},
	c.BridgeSimulate: func(conf *c.Config, frameLen int) (Transport, error) {
		return NewSimulator(conf.Simulator), nil
	},
}

// Open opens the backend named by conf.Bridge.Type. frameLen is the number of
// bytes every transfer carries.
func Open(conf *c.Config, frameLen int) (Transport, error) {
	open, ok := backends[strings.ToLower(conf.Bridge.Type)]
	if !ok {
		names := maps.Keys(backends)
		slices.Sort(names)
		return nil, fmt.Errorf("unknown bridge type %q, supported: %s",
			conf.Bridge.Type, strings.Join(names, ", "))
	}
	return open(conf, frameLen)
}
