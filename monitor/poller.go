package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"lautenbacher.net/potchain/util"
)

// Reader is the part of device.Chain the monitor needs.
type Reader interface {
	ReadCurrentResistances() ([]uint16, error)
	ReadMemoryResistances() ([]uint16, error)
}

// Reading is one poll of the chain.
type Reading struct {
	Current   []uint16
	Memory    []uint16
	Err       error
	Timestamp time.Time
}

// Poll reads the chain at most once per interval and publishes every reading
// to out. It returns nil when ctx is cancelled and the read error otherwise;
// the failed reading is published before returning.
func Poll(ctx context.Context, r Reader, interval time.Duration, out *util.AtomicEvent[Reading]) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		reading := Reading{Timestamp: time.Now()}
		reading.Current, reading.Err = r.ReadCurrentResistances()
		if reading.Err == nil {
			reading.Memory, reading.Err = r.ReadMemoryResistances()
		}
		out.Send(reading)

		if reading.Err != nil {
			slog.Error("Polling stopped", "error", reading.Err)
			return reading.Err
		}
	}
}
