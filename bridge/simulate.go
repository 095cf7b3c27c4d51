package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
	c "lautenbacher.net/potchain/config"
	"lautenbacher.net/potchain/frame"
)

// maxStores is the number of one-time-programmable slots in the memory of
// each potentiometer.
const maxStores = 50

// Control register bits.
const (
	ctrlMemoryProgram byte = 0x01
	ctrlRDACWrite     byte = 0x02
)

// Commands as decoded from bits 13..10 of a cell.
const (
	simNop          = 0
	simWriteRDAC    = 1
	simReadRDAC     = 2
	simStoreMemory  = 3
	simReset        = 4
	simReadMemory   = 5
	simWriteControl = 7
)

var errSimulatorClosed = errors.New("simulator closed")

// Simulator is an in-memory Transport emulating a chain of frame.Channels
// AD5270-class potentiometers. Each device answers a read in the same
// transaction that carries the command. Bytes clocked in ahead of the final
// frame push out whatever the chain held from the previous transaction.
type Simulator struct {
	mu      sync.Mutex
	rdac    [frame.Channels]uint16
	memory  [frame.Channels]uint16
	control [frame.Channels]byte
	stores  [frame.Channels]int
	chain   *deque.Deque[byte]
	closed  bool
}

// NewSimulator powers up a simulated chain. RDAC registers load from memory
// as on the real part.
func NewSimulator(cfg c.SimulatorConfig) *Simulator {
	s := &Simulator{chain: new(deque.Deque[byte])}
	s.chain.Grow(frame.Size)
	for i := 0; i < frame.Size; i++ {
		s.chain.PushBack(0)
	}
	copy(s.memory[:], cfg.Memory)
	s.rdac = s.memory
	for i := range s.control {
		if !cfg.Locked {
			s.control[i] = ctrlMemoryProgram | ctrlRDACWrite
		}
	}
	slog.Info("Using simulated potentiometer chain", "locked", cfg.Locked)
	return s
}

// Transfer implements Transport.
func (s *Simulator) Transfer(tx []byte, rxLen int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSimulatorClosed
	}
	if len(tx) < frame.Size {
		return nil, fmt.Errorf("simulated chain needs %d bytes per transaction, got %d", frame.Size, len(tx))
	}

	rx := make([]byte, 0, max(len(tx), rxLen))
	prefix, cmd := tx[:len(tx)-frame.Size], tx[len(tx)-frame.Size:]
	for _, b := range prefix {
		s.chain.PushBack(b)
		rx = append(rx, s.chain.PopFront())
	}

	s.chain.Clear()
	for i := 0; i < frame.Channels; i++ {
		word := s.execute(i, cmd[2*i], cmd[2*i+1])
		rx = append(rx, byte(word>>8), byte(word))
		s.chain.PushBack(cmd[2*i])
		s.chain.PushBack(cmd[2*i+1])
	}

	for len(rx) < rxLen {
		rx = append(rx, 0)
	}
	return rx, nil
}

// execute applies one cell to potentiometer i and returns what that device
// shifts back.
func (s *Simulator) execute(i int, hi, lo byte) uint16 {
	cmd := (hi >> 2) & 0x0F
	data := uint16(hi&0x03)<<8 | uint16(lo)

	switch cmd {
	case simNop:
	case simWriteRDAC:
		if s.control[i]&ctrlRDACWrite != 0 {
			s.rdac[i] = data
		}
	case simReadRDAC:
		return s.rdac[i]
	case simStoreMemory:
		if s.control[i]&ctrlMemoryProgram != 0 && s.stores[i] < maxStores {
			s.memory[i] = s.rdac[i]
			s.stores[i]++
		}
	case simReset:
		s.rdac[i] = s.memory[i]
	case simReadMemory:
		return s.memory[i]
	case simWriteControl:
		s.control[i] = byte(data) & 0x0F
	default:
		slog.Debug("Simulator ignoring command", "channel", i, "command", cmd)
	}
	return 0
}

// Close implements Transport.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSimulatorClosed
	}
	s.closed = true
	return nil
}
