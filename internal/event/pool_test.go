package event

import "testing"

func TestQuotePool(t *testing.T) {
	ev := AcquireQuoteEvent()
	ev.Symbol = "SBIN"
	ev.LastPrice = 543650000

	ReleaseQuoteEvent(ev)

	ev2 := AcquireQuoteEvent()
	if ev2.Symbol != "" || ev2.LastPrice != 0 {
		t.Error("event should be reset after release")
	}
	ReleaseQuoteEvent(ev2)
}

func BenchmarkQuoteWithPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ev := AcquireQuoteEvent()
		ev.Symbol = "SBIN"
		ev.LastPrice = 543650000
		ReleaseQuoteEvent(ev)
	}
}
