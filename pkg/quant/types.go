package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.23 INR = 1,230,000 PriceMicros.
type PriceMicros int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

// PriceScale is the fixed-point scale for PriceMicros.
const PriceScale = 1000000

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStampMillis converts an epoch-milliseconds string to TimeStamp (micros).
func ParseTimeStampMillis(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ms * 1000), nil
}

// ToPriceMicrosStr converts a numeric string to PriceMicros without using float64.
// Broker APIs send prices as decimal strings; fixed-point string parsing keeps
// float rounding out of the tick path.
func ToPriceMicrosStr(s string) PriceMicros {
	return PriceMicros(parseFixedPoint(s, 6))
}

// parseFixedPoint parses a numeric string into an int64 with the given precision.
// E.g., parseFixedPoint("1.23", 6) -> 1,230,000.
func parseFixedPoint(s string, precision int) int64 {
	if s == "" || s == "null" {
		return 0
	}

	intStr := s
	fracStr := ""
	if dot := strings.IndexByte(s, '.'); dot != -1 {
		intStr = s[:dot]
		fracStr = s[dot+1:]
	}

	intPart, _ := strconv.ParseInt(intStr, 10, 64)
	for i := 0; i < precision; i++ {
		intPart *= 10
	}

	if fracStr == "" {
		return intPart
	}

	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	fracPart, _ := strconv.ParseInt(fracStr, 10, 64)

	// Pad fraction part with zeros if shorter than precision
	for i := len(fracStr); i < precision; i++ {
		fracPart *= 10
	}

	if strings.HasPrefix(intStr, "-") {
		return intPart - fracPart
	}
	return intPart + fracPart
}
