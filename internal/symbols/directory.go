// Package symbols loads and indexes the broker instrument master, resolving
// between the engine's canonical symbol identity and the broker's
// per-exchange trading-symbol/token identity.
package symbols

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"samco_go/pkg/quant"
)

// ErrSymbolNotFound is returned when no instrument matches a lookup.
var ErrSymbolNotFound = errors.New("symbols: not found")

// ErrNotLoaded is returned when the directory is used before Load.
var ErrNotLoaded = errors.New("symbols: directory not loaded")

// exchangePreference orders listings when an engine symbol trades on more
// than one exchange.
var exchangePreference = []string{"NSE", "BSE", "NFO", "CDS", "MCX"}

// InstrumentRecord is one row of the instrument master. Immutable after the
// directory load completes.
type InstrumentRecord struct {
	TradingSymbol string
	Exchange      string // NSE, BSE, NFO, CDS, MCX
	Token         string // listen token used on the stream
	Instrument    string // EQ, FUTSTK, OPTSTK, ...
	Name          string // underlying name
	Expiry        string // raw broker date, empty for cash instruments
	Strike        quant.PriceMicros
}

// IsDerivative reports whether the record is a future or option.
func (r InstrumentRecord) IsDerivative() bool {
	return strings.HasPrefix(r.Instrument, "FUT") || strings.HasPrefix(r.Instrument, "OPT")
}

// Directory is the indexed instrument master. Load once at startup; all
// lookups afterwards are read-only and safe for concurrent use.
type Directory struct {
	byKey   map[string]InstrumentRecord   // exchange|tradingSymbol
	byToken map[string]InstrumentRecord   // token
	byName  map[string][]InstrumentRecord // underlying name
	loaded  bool
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		byKey:   make(map[string]InstrumentRecord),
		byToken: make(map[string]InstrumentRecord),
		byName:  make(map[string][]InstrumentRecord),
	}
}

// LoadFile loads the instrument master CSV from disk.
func (d *Directory) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open instrument master: %w", err)
	}
	defer f.Close()
	return d.Load(f)
}

// Load parses the instrument master CSV. Expected header columns:
// exchange, tradingSymbol, symbolCode, instrument, name, expiryDate,
// strikePrice. A structurally malformed row fails the load; rows with an
// empty trading symbol are skipped.
func (d *Directory) Load(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read instrument master header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"exchange", "tradingSymbol", "symbolCode"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("instrument master missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rows := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("instrument master row %d: %w", rows+2, err)
		}

		rec := InstrumentRecord{
			TradingSymbol: field(row, "tradingSymbol"),
			Exchange:      strings.ToUpper(field(row, "exchange")),
			Token:         field(row, "symbolCode"),
			Instrument:    field(row, "instrument"),
			Name:          field(row, "name"),
			Expiry:        field(row, "expiryDate"),
			Strike:        quant.ToPriceMicrosStr(field(row, "strikePrice")),
		}
		if rec.TradingSymbol == "" {
			continue
		}

		d.byKey[key(rec.Exchange, rec.TradingSymbol)] = rec
		if rec.Token != "" {
			d.byToken[rec.Token] = rec
		}
		if rec.Name != "" {
			d.byName[rec.Name] = append(d.byName[rec.Name], rec)
		}
		rows++
	}

	d.loaded = true
	slog.Info("Instrument master loaded", "instruments", rows)
	return nil
}

// Lookup finds the instrument listed under a trading symbol on a specific
// exchange.
func (d *Directory) Lookup(tradingSymbol, exchange string) (InstrumentRecord, error) {
	if !d.loaded {
		return InstrumentRecord{}, ErrNotLoaded
	}
	rec, ok := d.byKey[key(strings.ToUpper(exchange), tradingSymbol)]
	if !ok {
		return InstrumentRecord{}, fmt.Errorf("%w: %s on %s", ErrSymbolNotFound, tradingSymbol, exchange)
	}
	return rec, nil
}

// Resolve finds the listings for an engine symbol in exchange-preference
// order. An equity may resolve to more than one record: its cash listing
// plus a same-symbol derivatives listing.
func (d *Directory) Resolve(engineSymbol string) ([]InstrumentRecord, error) {
	if !d.loaded {
		return nil, ErrNotLoaded
	}

	var recs []InstrumentRecord
	for _, ex := range exchangePreference {
		if rec, ok := d.byKey[key(ex, engineSymbol)]; ok {
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, engineSymbol)
	}
	return recs, nil
}

// ByToken maps a stream token back to its instrument.
func (d *Directory) ByToken(token string) (InstrumentRecord, error) {
	if !d.loaded {
		return InstrumentRecord{}, ErrNotLoaded
	}
	rec, ok := d.byToken[token]
	if !ok {
		return InstrumentRecord{}, fmt.Errorf("%w: token %s", ErrSymbolNotFound, token)
	}
	return rec, nil
}

// ByUnderlying returns all instruments sharing an underlying name, e.g. the
// futures and options chain for an equity.
func (d *Directory) ByUnderlying(name string) []InstrumentRecord {
	return d.byName[name]
}

func key(exchange, tradingSymbol string) string {
	return exchange + "|" + tradingSymbol
}
