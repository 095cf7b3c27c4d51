package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"lautenbacher.net/potchain/frame"
)

const colWidth = 10

type channelStats struct {
	min    int
	max    int
	mean   float64
	median float64
	stdDev float64
}

// viewer keeps the per-channel history of live values and renders the
// channel table. It is independent of the terminal so it can be driven
// directly.
type viewer struct {
	mu      sync.Mutex
	history [frame.Channels]*deque.Deque[int]
	limit   int
	last    Reading
	polls   int
	dropped uint64
}

func newViewer(limit int) *viewer {
	v := &viewer{limit: max(limit, 1)}
	for i := range v.history {
		v.history[i] = new(deque.Deque[int])
		v.history[i].Grow(v.limit)
	}
	return v
}

// record stores r and returns the rendered table. dropped is the number of
// readings the poller produced that never reached the view.
func (v *viewer) record(r Reading, dropped uint64) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.last = r
	v.dropped = dropped
	if r.Err == nil && len(r.Current) == frame.Channels {
		v.polls++
		for i, value := range r.Current {
			q := v.history[i]
			if q.Len() == v.limit {
				q.PopFront()
			}
			q.PushBack(int(value))
		}
	}
	return v.render()
}

// render must be called with the mutex held.
func (v *viewer) render() string {
	var head, cur, mem, span, med, dev strings.Builder

	head.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " Potentiometer"))
	cur.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " Current"))
	mem.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " Memory"))
	span.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " [min|mean|max]"))
	med.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " Median"))
	dev.WriteString(fmt.Sprintf("[yellow]%-*s[white]", colWidth+12, " Standard Deviation"))

	for i := 0; i < frame.Channels; i++ {
		q := v.history[i]
		data := make([]int, q.Len())
		for j := range q.Len() {
			data[j] = q.At(j)
		}
		stats := calculateStats(data)

		head.WriteString(fmt.Sprintf("[blue]%*s[-]", colWidth+6, fmt.Sprintf("#%d", i+1)))
		cur.WriteString(fmt.Sprintf("%*s", colWidth+6, valueAt(v.last.Current, i)))
		mem.WriteString(fmt.Sprintf("%*s", colWidth+6, valueAt(v.last.Memory, i)))
		span.WriteString(fmt.Sprintf(" [%4d|%4.0f|%4d]", stats.min, math.Round(stats.mean), stats.max))
		med.WriteString(fmt.Sprintf("%*.1f", colWidth+6, stats.median))
		dev.WriteString(fmt.Sprintf("%*.1f", colWidth+6, stats.stdDev))
	}

	status := fmt.Sprintf(" %d readings", v.polls)
	if v.dropped > 0 {
		status += fmt.Sprintf(" (%d not shown)", v.dropped)
	}
	if !v.last.Timestamp.IsZero() {
		status += ", last at " + v.last.Timestamp.Format("15:04:05")
	}
	if v.last.Err != nil {
		status = fmt.Sprintf(" [red]error:[-] %v", v.last.Err)
	}

	return strings.Join([]string{head.String(), cur.String(), mem.String(), span.String(), med.String(), dev.String(), "", status}, "\n")
}

func valueAt(values []uint16, i int) string {
	if i >= len(values) {
		return "-"
	}
	return fmt.Sprintf("%d", values[i])
}

func calculateStats(data []int) channelStats {
	if len(data) == 0 {
		return channelStats{}
	}

	var sum int
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	mean := float64(sum) / float64(len(data))

	sorted := append([]int(nil), data...)
	sort.Ints(sorted)
	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = float64(sorted[mid-1]+sorted[mid]) / 2.0
	} else {
		median = float64(sorted[mid])
	}

	var sumOfSquares float64
	for _, v := range data {
		sumOfSquares += (float64(v) - mean) * (float64(v) - mean)
	}

	return channelStats{
		min:    lo,
		max:    hi,
		mean:   mean,
		median: median,
		stdDev: math.Sqrt(sumOfSquares / float64(len(data))),
	}
}
