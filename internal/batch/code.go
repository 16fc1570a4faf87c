package batch

import (
	"fmt"
	"sync"
	"time"
)

// CodeGenerator issues public batch codes.
type CodeGenerator interface {
	Next(cooperativeID, farmerID int64) string
}

// FormatCode renders BATCH-{cooperative}-{farmer}-{millis}.
func FormatCode(cooperativeID, farmerID, millis int64) string {
	return fmt.Sprintf("BATCH-%d-%d-%d", cooperativeID, farmerID, millis)
}

// MillisGenerator stamps codes with the Unix time in milliseconds. The stamp
// never repeats within one generator: a call in the same or an earlier
// millisecond than the previous one is bumped to previous+1.
type MillisGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewCodeGenerator returns a generator reading now; nil uses time.Now.
func NewCodeGenerator(now func() time.Time) *MillisGenerator {
	if now == nil {
		now = time.Now
	}
	return &MillisGenerator{now: now}
}

func (g *MillisGenerator) Next(cooperativeID, farmerID int64) string {
	ms := g.now().UnixMilli()

	g.mu.Lock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return FormatCode(cooperativeID, farmerID, ms)
}
