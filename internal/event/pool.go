package event

import "sync"

// quotePool recycles QuoteEvent allocations on the tick hot path.
var quotePool = sync.Pool{
	New: func() any { return &QuoteEvent{} },
}

// AcquireQuoteEvent gets a reset QuoteEvent from the pool.
func AcquireQuoteEvent() *QuoteEvent {
	return quotePool.Get().(*QuoteEvent)
}

// ReleaseQuoteEvent resets and returns a QuoteEvent to the pool.
func ReleaseQuoteEvent(ev *QuoteEvent) {
	*ev = QuoteEvent{}
	quotePool.Put(ev)
}

// Warmup pre-populates the pool to avoid first-tick allocations.
func Warmup() {
	evs := make([]*QuoteEvent, 0, 64)
	for i := 0; i < 64; i++ {
		evs = append(evs, AcquireQuoteEvent())
	}
	for _, ev := range evs {
		ReleaseQuoteEvent(ev)
	}
}
