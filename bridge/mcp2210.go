package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/karalabe/hid"
	c "lautenbacher.net/potchain/config"
)

// MCP2210 USB identifiers assigned to Microchip.
const (
	MCP2210VendorID  = 0x04D8
	MCP2210ProductID = 0x00DE
)

// reportSize is the size of every HID command and response report.
const reportSize = 64

// maxChunk is the largest SPI payload a single transfer report carries.
const maxChunk = 60

// maxPolls bounds the empty transfer reports sent while waiting for the SPI
// engine to finish one transaction.
const maxPolls = 64

// Settings applied on open. The chain runs at 1 MHz in SPI mode 0.
const (
	spiBitRate = 1000000
	spiMode    = 0
)

const (
	cmdCancelTransfer  byte = 0x11
	cmdSetSPISettings  byte = 0x40
	cmdTransferSPIData byte = 0x42
)

const (
	statusOK               byte = 0x00
	statusBusNotAvailable  byte = 0xF7
	statusTransferPending  byte = 0xF8
	statusAccessBlocked    byte = 0xFB
	engineFinished         byte = 0x10
	engineStartedNoData    byte = 0x20
	engineStartedDataReady byte = 0x30
)

func statusName(code byte) string {
	switch code {
	case statusOK:
		return "success"
	case statusBusNotAvailable:
		return "SPI bus not available"
	case statusTransferPending:
		return "SPI transfer in progress"
	case statusAccessBlocked:
		return "access blocked"
	default:
		return "unknown status"
	}
}

// reportDevice is the part of *hid.Device the driver needs.
type reportDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// MCP2210 is a Transport over a Microchip MCP2210 USB-to-SPI bridge.
type MCP2210 struct {
	dev      reportDevice
	frameLen int
}

// OpenMCP2210 opens the bridge selected by cfg and applies the SPI transfer
// settings for frames of frameLen bytes.
func OpenMCP2210(cfg c.BridgeConfig, frameLen int) (*MCP2210, error) {
	if !hid.Supported() {
		return nil, errors.New("USB HID is not supported on this platform")
	}
	if cfg.VendorID == 0 {
		cfg.VendorID = MCP2210VendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = MCP2210ProductID
	}

	info, err := selectDevice(hid.Enumerate(cfg.VendorID, cfg.ProductID), cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("Opening MCP2210", "path", info.Path, "serial", info.Serial, "product", info.Product)
	dev, err := info.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.Path, err)
	}

	m := newMCP2210(dev, frameLen)
	if err := m.configure(cfg.ChipSelect); err != nil {
		dev.Close()
		return nil, err
	}
	return m, nil
}

func newMCP2210(dev reportDevice, frameLen int) *MCP2210 {
	return &MCP2210{dev: dev, frameLen: frameLen}
}

func selectDevice(infos []hid.DeviceInfo, cfg c.BridgeConfig) (hid.DeviceInfo, error) {
	if len(infos) == 0 {
		return hid.DeviceInfo{}, fmt.Errorf("no MCP2210 found (vid 0x%04X, pid 0x%04X)", cfg.VendorID, cfg.ProductID)
	}
	if cfg.Serial != "" {
		for _, info := range infos {
			if info.Serial == cfg.Serial {
				return info, nil
			}
		}
		return hid.DeviceInfo{}, fmt.Errorf("no MCP2210 with serial %q", cfg.Serial)
	}
	if cfg.Index >= len(infos) {
		return hid.DeviceInfo{}, fmt.Errorf("device index %d out of range [0, %d]", cfg.Index, len(infos)-1)
	}
	return infos[cfg.Index], nil
}

// configure sets the volatile SPI transfer settings. Every transaction moves
// exactly frameLen bytes with chip select pin cs held low.
func (m *MCP2210) configure(cs int) error {
	idle := uint16(0x01FF)
	active := idle &^ (1 << cs)

	req := make([]byte, reportSize)
	req[0] = cmdSetSPISettings
	binary.LittleEndian.PutUint32(req[4:8], spiBitRate)
	binary.LittleEndian.PutUint16(req[8:10], idle)
	binary.LittleEndian.PutUint16(req[10:12], active)
	binary.LittleEndian.PutUint16(req[18:20], uint16(m.frameLen))
	req[20] = spiMode

	rsp, err := m.exchange(req)
	if err != nil {
		return err
	}
	if rsp[1] != statusOK {
		return &StatusError{Op: "set SPI settings", Code: rsp[1]}
	}
	return nil
}

// Transfer implements Transport.
func (m *MCP2210) Transfer(tx []byte, rxLen int) ([]byte, error) {
	if len(tx) != m.frameLen {
		return nil, fmt.Errorf("transfer of %d bytes, bridge is set up for %d", len(tx), m.frameLen)
	}
	rx := make([]byte, 0, max(rxLen, len(tx)))
	pending := tx

	for polls := 0; ; polls++ {
		if polls == maxPolls {
			if err := m.Cancel(); err != nil {
				slog.Warn("Cancelling stuck SPI transfer failed", "error", err)
			}
			return nil, fmt.Errorf("SPI transfer did not finish after %d polls", maxPolls)
		}
		n := min(len(pending), maxChunk)
		req := make([]byte, reportSize)
		req[0] = cmdTransferSPIData
		req[1] = byte(n)
		copy(req[4:], pending[:n])

		rsp, err := m.exchange(req)
		if err != nil {
			return nil, err
		}
		switch rsp[1] {
		case statusOK:
			pending = pending[n:]
		case statusTransferPending:
			// Chunk not accepted while the engine shifts the previous one.
			continue
		default:
			return nil, &StatusError{Op: "SPI transfer", Code: rsp[1]}
		}

		got := int(rsp[2])
		if got > maxChunk {
			return nil, fmt.Errorf("bridge reported %d received bytes in one report", got)
		}
		rx = append(rx, rsp[4:4+got]...)

		if rsp[3] == engineFinished && len(pending) == 0 {
			break
		}
	}

	if len(rx) < rxLen {
		return nil, fmt.Errorf("short SPI read: %d of %d bytes", len(rx), rxLen)
	}
	return rx, nil
}

// Cancel aborts a transaction left in flight.
func (m *MCP2210) Cancel() error {
	req := make([]byte, reportSize)
	req[0] = cmdCancelTransfer
	rsp, err := m.exchange(req)
	if err != nil {
		return err
	}
	if rsp[1] != statusOK {
		return &StatusError{Op: "cancel SPI transfer", Code: rsp[1]}
	}
	return nil
}

// Close implements Transport.
func (m *MCP2210) Close() error {
	return m.dev.Close()
}

func (m *MCP2210) exchange(req []byte) ([]byte, error) {
	cmd := req[0]
	if _, err := m.dev.Write(req); err != nil {
		return nil, fmt.Errorf("write report 0x%02X: %w", cmd, err)
	}
	rsp := make([]byte, reportSize)
	n, err := m.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("read report 0x%02X: %w", cmd, err)
	}
	if n < 4 {
		return nil, fmt.Errorf("read report 0x%02X: short read (%d of %d bytes)", cmd, n, reportSize)
	}
	if rsp[0] != cmd {
		return nil, fmt.Errorf("read report 0x%02X: bridge echoed 0x%02X", cmd, rsp[0])
	}
	return rsp, nil
}
