package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/potchain/bridge"
	c "lautenbacher.net/potchain/config"
	"lautenbacher.net/potchain/frame"
)

type fakeTransport struct {
	transferFunc func(tx []byte, rxLen int) ([]byte, error)
	sent         [][]byte
	closeCalls   int
	closeErr     error
}

func (f *fakeTransport) Transfer(tx []byte, rxLen int) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), tx...))
	return f.transferFunc(tx, rxLen)
}

func (f *fakeTransport) Close() error {
	f.closeCalls++
	return f.closeErr
}

func respondWith(values []uint16) func([]byte, int) ([]byte, error) {
	return func(tx []byte, rxLen int) ([]byte, error) {
		rx := make([]byte, rxLen-frame.Size, rxLen)
		for _, v := range values {
			rx = append(rx, byte(v>>8), byte(v))
		}
		return rx, nil
	}
}

var chainConfig = c.ChainConfig{ResolutionBits: 10}

func TestReadCurrentResistances(t *testing.T) {
	want := []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9, 1023}
	ft := &fakeTransport{transferFunc: respondWith(want)}
	ch := New(ft, chainConfig)

	got, err := ch.ReadCurrentResistances()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, ft.sent, 1)
	expected, _ := frame.Encode(frame.OpReadRDAC, frame.Fill(0))
	assert.Equal(t, expected, ft.sent[0])
}

func TestReadMemoryResistances(t *testing.T) {
	want := frame.Fill(321)
	ft := &fakeTransport{transferFunc: respondWith(want)}
	ch := New(ft, chainConfig)

	got, err := ch.ReadMemoryResistances()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, byte(0x14), ft.sent[0][0])
	assert.Equal(t, byte(0x14), ft.sent[0][18])
}

func TestReadWithDummyCycle(t *testing.T) {
	want := frame.Fill(42)
	ft := &fakeTransport{transferFunc: respondWith(want)}
	ch := New(ft, c.ChainConfig{ResolutionBits: 10, ResponseOffset: frame.Size})

	got, err := ch.ReadCurrentResistances()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, ft.sent[0], 2*frame.Size)
	assert.Equal(t, make([]byte, frame.Size), ft.sent[0][:frame.Size])
	assert.Equal(t, byte(0x08), ft.sent[0][frame.Size])
}

func TestProgramResistances(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	values := []uint16{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	require.NoError(t, ch.ProgramResistances(values))

	expected, _ := frame.Encode(frame.OpWriteRDAC, values)
	require.Len(t, ft.sent, 1)
	assert.Equal(t, expected, ft.sent[0])
}

func TestProgramResistances_FullWireRangeByDefault(t *testing.T) {
	for name, conf := range map[string]c.ChainConfig{
		"defaults":   c.Default().Chain,
		"zero value": {},
	} {
		t.Run(name, func(t *testing.T) {
			ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
			ch := New(ft, conf)

			require.NoError(t, ch.ProgramResistances(frame.Fill(1)))
			require.NoError(t, ch.ProgramResistances(frame.Fill(frame.MaxValue)))
			assert.ErrorIs(t, ch.ProgramResistances(frame.Fill(frame.MaxValue+1)), ErrValueRange)
			assert.Len(t, ft.sent, 2)
		})
	}
}

func TestProgramResistances_WrongLengthSendsNothing(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	for _, n := range []int{0, 9, 11} {
		err := ch.ProgramResistances(make([]uint16, n))
		assert.ErrorIs(t, err, ErrFrameSize)

		var sizeErr *frame.SizeError
		assert.True(t, errors.As(err, &sizeErr))
	}
	assert.Empty(t, ft.sent)
}

func TestProgramResistances_OutOfRangeSendsNothing(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	values := frame.Fill(0)
	values[4] = 1024
	err := ch.ProgramResistances(values)
	assert.ErrorIs(t, err, ErrValueRange)
	assert.ErrorContains(t, err, "channel 4")
	assert.Empty(t, ft.sent)
}

func TestStoreResistancesToMemory(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	require.NoError(t, ch.StoreResistancesToMemory())
	expected, _ := frame.Encode(frame.OpStoreMemory, frame.Fill(0))
	assert.Equal(t, expected, ft.sent[0])
}

func TestEnableWrite(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	require.NoError(t, ch.EnableWrite())
	for i := 0; i < frame.Channels; i++ {
		assert.Equal(t, byte(0x1C), ft.sent[0][2*i])
		assert.Equal(t, byte(0x03), ft.sent[0][2*i+1])
	}
}

func TestTransferFailure(t *testing.T) {
	statusErr := &bridge.StatusError{Op: "SPI transfer", Code: 0xF7}
	ft := &fakeTransport{transferFunc: func([]byte, int) ([]byte, error) {
		return nil, statusErr
	}}
	ch := New(ft, chainConfig)

	values, err := ch.ReadCurrentResistances()
	assert.Nil(t, values)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, statusErr)

	values, err = ch.ReadMemoryResistances()
	assert.Nil(t, values)
	assert.ErrorIs(t, err, ErrTransfer)

	assert.ErrorIs(t, ch.ProgramResistances(frame.Fill(1)), ErrTransfer)
	assert.ErrorIs(t, ch.StoreResistancesToMemory(), ErrTransfer)
	assert.Len(t, ft.sent, 4, "each failure is reported once, never retried")
}

func TestShortResponse(t *testing.T) {
	ft := &fakeTransport{transferFunc: func(tx []byte, rxLen int) ([]byte, error) {
		return make([]byte, frame.Size-2), nil
	}}
	ch := New(ft, chainConfig)

	var values []uint16
	var err error
	assert.NotPanics(t, func() { values, err = ch.ReadCurrentResistances() })
	assert.Nil(t, values)
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestClose(t *testing.T) {
	ft := &fakeTransport{transferFunc: respondWith(frame.Fill(0))}
	ch := New(ft, chainConfig)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, 1, ft.closeCalls)

	_, err := ch.ReadCurrentResistances()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, ft.sent)
}

func TestClose_AfterFailedOperation(t *testing.T) {
	ft := &fakeTransport{
		transferFunc: func([]byte, int) ([]byte, error) { return nil, errors.New("usb gone") },
		closeErr:     errors.New("already detached"),
	}
	ch := New(ft, chainConfig)

	assert.Error(t, ch.StoreResistancesToMemory())
	err := ch.Close()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, err, ch.Close())
	assert.Equal(t, 1, ft.closeCalls)
}

func TestOpen_Simulated(t *testing.T) {
	conf := c.Default()
	conf.Bridge.Type = c.BridgeSimulate
	conf.Simulator.Memory = frame.Fill(77)

	ch, err := Open(conf)
	require.NoError(t, err)
	defer ch.Close()

	current, err := ch.ReadCurrentResistances()
	require.NoError(t, err)
	assert.Equal(t, frame.Fill(77), current)

	values := []uint16{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}
	require.NoError(t, ch.ProgramResistances(values))
	require.NoError(t, ch.StoreResistancesToMemory())

	memory, err := ch.ReadMemoryResistances()
	require.NoError(t, err)
	assert.Equal(t, values, memory)
}

func TestOpen_Unavailable(t *testing.T) {
	conf := c.Default()
	conf.Bridge.Type = "nope"

	ch, err := Open(conf)
	assert.Nil(t, ch)
	assert.ErrorIs(t, err, ErrUnavailable)
}
