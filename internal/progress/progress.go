package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// Reporter counts completed segments and renders a progress line. Inc is a
// single atomic add so many workers can report without contention; Render
// only reads, so it never blocks an Inc. The reporter is advisory: nothing
// in the pipeline depends on its output reaching a terminal.
type Reporter struct {
	total   int64
	done    atomic.Int64
	started time.Time
}

func New(total int) *Reporter {
	return &Reporter{
		total:   int64(total),
		started: time.Now(),
	}
}

func (r *Reporter) Inc() {
	r.done.Add(1)
}

func (r *Reporter) Done() int64 {
	return r.done.Load()
}

func (r *Reporter) Total() int64 {
	return r.total
}

// Render produces a single progress line: bar, counts, elapsed and an ETA
// extrapolated from the average pace so far.
func (r *Reporter) Render() string {
	done := r.done.Load()
	elapsed := time.Since(r.started)

	percent := float64(0)
	if r.total > 0 {
		percent = float64(done) / float64(r.total) * 100
	}

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	div := done
	if div < 1 {
		div = 1
	}
	eta := elapsed * time.Duration(r.total-done) / time.Duration(div)

	return fmt.Sprintf("\r[%s] %d/%d | Elapsed: %-8s | ETA: %-8s",
		bar, done, r.total,
		elapsed.Truncate(time.Second), eta.Truncate(time.Second))
}

// Loop re-renders on a ticker until ctx is cancelled, then emits one final
// line. Write failures are swallowed: a broken terminal must never fail a
// download.
func (r *Reporter) Loop(ctx context.Context, w io.Writer, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprint(w, r.Render())
		case <-ctx.Done():
			fmt.Fprintln(w, r.Render())
			return
		}
	}
}
