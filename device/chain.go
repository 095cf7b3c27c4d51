// Package device is the facade over a chain of digital potentiometers. It
// composes frame encoding, one SPI transfer, and response decoding into the
// operations a user of the chain needs.
//
// A Chain is not safe for concurrent use; callers serialize access.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lautenbacher.net/potchain/bridge"
	c "lautenbacher.net/potchain/config"
	"lautenbacher.net/potchain/frame"
)

// Error kinds. Every error returned by a Chain matches exactly one of them
// with errors.Is.
var (
	ErrUnavailable = errors.New("device unavailable")
	ErrTransfer    = errors.New("transfer failed")
	ErrFrameSize   = errors.New("frame size mismatch")
	ErrValueRange  = errors.New("value out of range")
)

// OpError describes a failed chain operation.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// controlUnlock enables RDAC writes and memory programming.
const controlUnlock = 0x003

// Chain owns the transport handle for one potentiometer chain.
type Chain struct {
	transport bridge.Transport
	offset    int
	maxValue  uint16
	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Open acquires the bridge described by conf.
func Open(conf *c.Config) (*Chain, error) {
	t, err := bridge.Open(conf, conf.Chain.ResponseOffset+frame.Size)
	if err != nil {
		return nil, &OpError{Op: "open " + conf.Bridge.Type, Kind: ErrUnavailable, Err: err}
	}
	return New(t, conf.Chain), nil
}

// New wraps an open transport. The Chain takes ownership of t.
func New(t bridge.Transport, conf c.ChainConfig) *Chain {
	return &Chain{
		transport: t,
		offset:    conf.ResponseOffset,
		maxValue:  conf.MaxValue(),
	}
}

// ReadCurrentResistances returns the live wiper value of every channel.
func (ch *Chain) ReadCurrentResistances() ([]uint16, error) {
	return ch.query("read current", frame.OpReadRDAC)
}

// ReadMemoryResistances returns the value stored in non-volatile memory for
// every channel.
func (ch *Chain) ReadMemoryResistances() ([]uint16, error) {
	return ch.query("read memory", frame.OpReadMemory)
}

// ProgramResistances sets the live wiper value of every channel. values must
// hold one entry per channel; nothing is sent otherwise.
func (ch *Chain) ProgramResistances(values []uint16) error {
	const op = "program"
	if len(values) != frame.Channels {
		return &OpError{Op: op, Kind: ErrFrameSize,
			Err: &frame.SizeError{What: "values", Want: frame.Channels, Got: len(values)}}
	}
	for i, v := range values {
		if v > ch.maxValue {
			return &OpError{Op: op, Kind: ErrValueRange,
				Err: fmt.Errorf("channel %d: %d must be between 0 and %d", i, v, ch.maxValue)}
		}
	}
	_, err := ch.exchange(op, frame.OpWriteRDAC, values)
	return err
}

// StoreResistancesToMemory copies every live wiper value into non-volatile
// memory. Each device accepts a limited number of stores.
func (ch *Chain) StoreResistancesToMemory() error {
	_, err := ch.exchange("store", frame.OpStoreMemory, frame.Fill(0))
	return err
}

// EnableWrite lifts the power-up write protection of the RDAC registers and
// of the non-volatile memory.
func (ch *Chain) EnableWrite() error {
	_, err := ch.exchange("enable write", frame.OpWriteControl, frame.Fill(controlUnlock))
	return err
}

// Close releases the transport. It runs once; later calls return the first
// result.
func (ch *Chain) Close() error {
	ch.closeOnce.Do(func() {
		ch.closed = true
		if err := ch.transport.Close(); err != nil {
			ch.closeErr = &OpError{Op: "close", Kind: ErrUnavailable, Err: err}
		}
	})
	return ch.closeErr
}

func (ch *Chain) query(op string, code frame.Opcode) ([]uint16, error) {
	rx, err := ch.exchange(op, code, frame.Fill(0))
	if err != nil {
		return nil, err
	}
	values, err := frame.Decode(rx, ch.offset)
	if err != nil {
		return nil, &OpError{Op: op, Kind: ErrFrameSize, Err: err}
	}
	return values, nil
}

func (ch *Chain) exchange(op string, code frame.Opcode, values []uint16) ([]byte, error) {
	if ch.closed {
		return nil, &OpError{Op: op, Kind: ErrUnavailable, Err: errors.New("chain closed")}
	}
	cmd, err := frame.Encode(code, values)
	if err != nil {
		return nil, &OpError{Op: op, Kind: ErrFrameSize, Err: err}
	}
	tx := frame.Pad(ch.offset, cmd)

	slog.Debug("SPI transfer", "op", op, "opcode", code, "tx", frame.Dump(tx))
	rx, err := ch.transport.Transfer(tx, len(tx))
	if err != nil {
		return nil, &OpError{Op: op, Kind: ErrTransfer, Err: err}
	}
	slog.Debug("SPI response", "op", op, "rx", frame.Dump(rx))
	return rx, nil
}
