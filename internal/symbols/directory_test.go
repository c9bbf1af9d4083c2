package symbols

import (
	"errors"
	"strings"
	"testing"
)

const masterCSV = `exchange,tradingSymbol,symbolCode,instrument,name,expiryDate,strikePrice
NSE,SBIN,3045,EQ,STATE BANK OF INDIA,,
BSE,SBIN,500112,EQ,STATE BANK OF INDIA,,
NFO,SBIN25SEPFUT,58903,FUTSTK,STATE BANK OF INDIA,2025-09-25,
NFO,SBIN25SEP600CE,58917,OPTSTK,STATE BANK OF INDIA,2025-09-25,600
NSE,INFY,1594,EQ,INFOSYS LIMITED,,
`

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d := New()
	if err := d.Load(strings.NewReader(masterCSV)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return d
}

func TestDirectory_Lookup(t *testing.T) {
	d := loadTestDirectory(t)

	rec, err := d.Lookup("SBIN", "NSE")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Token != "3045" {
		t.Errorf("Token = %q, want 3045", rec.Token)
	}
	if rec.Name != "STATE BANK OF INDIA" {
		t.Errorf("Name = %q", rec.Name)
	}

	if _, err := d.Lookup("UNKNOWN", "NSE"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestDirectory_ResolvePrefersNSE(t *testing.T) {
	d := loadTestDirectory(t)

	recs, err := d.Resolve("SBIN")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Listed on NSE and BSE; NSE must come first.
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Exchange != "NSE" {
		t.Errorf("first record exchange = %s, want NSE", recs[0].Exchange)
	}
	if recs[1].Exchange != "BSE" {
		t.Errorf("second record exchange = %s, want BSE", recs[1].Exchange)
	}
}

func TestDirectory_ResolveDerivative(t *testing.T) {
	d := loadTestDirectory(t)

	recs, err := d.Resolve("SBIN25SEPFUT")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Exchange != "NFO" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if !recs[0].IsDerivative() {
		t.Error("FUTSTK record should report IsDerivative")
	}
}

func TestDirectory_ResolveUnknown(t *testing.T) {
	d := loadTestDirectory(t)
	if _, err := d.Resolve("NOSUCH"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestDirectory_ByToken(t *testing.T) {
	d := loadTestDirectory(t)

	rec, err := d.ByToken("58903")
	if err != nil {
		t.Fatalf("ByToken failed: %v", err)
	}
	if rec.TradingSymbol != "SBIN25SEPFUT" {
		t.Errorf("TradingSymbol = %q", rec.TradingSymbol)
	}
}

func TestDirectory_ByUnderlying(t *testing.T) {
	d := loadTestDirectory(t)

	recs := d.ByUnderlying("STATE BANK OF INDIA")
	if len(recs) != 4 {
		t.Errorf("got %d records for underlying, want 4", len(recs))
	}
}

func TestDirectory_StrikeParsed(t *testing.T) {
	d := loadTestDirectory(t)

	rec, err := d.Lookup("SBIN25SEP600CE", "NFO")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Strike != 600000000 {
		t.Errorf("Strike = %d, want 600000000", rec.Strike)
	}
}

func TestDirectory_NotLoaded(t *testing.T) {
	d := New()
	if _, err := d.Resolve("SBIN"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestDirectory_MissingColumn(t *testing.T) {
	d := New()
	err := d.Load(strings.NewReader("exchange,name\nNSE,X\n"))
	if err == nil {
		t.Error("expected error for missing required column")
	}
}

func TestDirectory_MalformedRow(t *testing.T) {
	d := New()
	bad := "exchange,tradingSymbol,symbolCode\nNSE,SBIN,3045\n\"unterminated\n"
	if err := d.Load(strings.NewReader(bad)); err == nil {
		t.Error("expected error for malformed row")
	}
}
