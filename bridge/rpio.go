package bridge

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
	c "lautenbacher.net/potchain/config"
)

// RPIO is a Transport over the Raspberry Pi's own SPI0 controller, for chains
// wired straight to the Pi header instead of through a USB bridge.
type RPIO struct{}

// OpenRPIO maps the Pi's peripheral registers and starts SPI0.
func OpenRPIO(cfg c.BridgeConfig) (*RPIO, error) {
	slog.Info("Initialise SPI0 via rpio...")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("failed to begin spi: %w", err)
	}
	rpio.SpiSpeed(spiBitRate)
	rpio.SpiChipSelect(uint8(cfg.ChipSelect))
	rpio.SpiMode(0, 0)
	return &RPIO{}, nil
}

// Transfer implements Transport. The controller has no status register to
// report failures, so every exchange succeeds once SPI0 is up.
func (r *RPIO) Transfer(tx []byte, rxLen int) ([]byte, error) {
	buf := make([]byte, max(len(tx), rxLen))
	copy(buf, tx)
	rpio.SpiExchange(buf)
	return buf, nil
}

// Close implements Transport.
func (r *RPIO) Close() error {
	rpio.SpiEnd(rpio.Spi0)
	if err := rpio.Close(); err != nil {
		return fmt.Errorf("failed to close rpio: %w", err)
	}
	return nil
}
