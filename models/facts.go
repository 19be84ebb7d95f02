package models

import "time"

// FactStockPriceDaily is the daily fact at (date_key, symbol_key) grain.
// It is a narrow projection of a silver record, not an aggregation.
type FactStockPriceDaily struct {
	DateKey   int32   `json:"date_key"`
	SymbolKey int64   `json:"symbol_key"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// FactStockPriceMonthly is the monthly rollup at (year_month, symbol_key)
// grain. YearMonth is encoded as yyyymm.
type FactStockPriceMonthly struct {
	YearMonth int32   `json:"year_month"`
	SymbolKey int64   `json:"symbol_key"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// FactStockPriceYearly is the yearly rollup at (year, symbol_key) grain.
type FactStockPriceYearly struct {
	Year      int32   `json:"year"`
	SymbolKey int64   `json:"symbol_key"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// DimDate is the calendar dimension, one row per distinct trading date
// observed in the silver set of the current run.
type DimDate struct {
	DateKey     int32     `json:"date_key"`
	TradingDate time.Time `json:"trading_date"`
	Year        int32     `json:"year"`
	Month       int32     `json:"month"`
	Day         int32     `json:"day"`
}

// DimSymbol is the security dimension, one row per distinct (symbol,
// exchange) observed in the silver set of the current run.
type DimSymbol struct {
	SymbolKey int64  `json:"symbol_key"`
	Symbol    string `json:"symbol"`
	Exchange  string `json:"exchange"`
}

// GoldTables bundles the full gold output of one pipeline run.
type GoldTables struct {
	Daily     []FactStockPriceDaily
	Monthly   []FactStockPriceMonthly
	Yearly    []FactStockPriceYearly
	DimDate   []DimDate
	DimSymbol []DimSymbol
}

func (f FactStockPriceDaily) Row() Row {
	return Row{
		"date_key":   nullableKey32(f.DateKey),
		"symbol_key": nullableKey64(f.SymbolKey),
		"open":       f.Open,
		"high":       f.High,
		"low":        f.Low,
		"close":      f.Close,
		"volume":     f.Volume,
	}
}

func (f FactStockPriceMonthly) Row() Row {
	return Row{
		"year_month": f.YearMonth,
		"symbol_key": nullableKey64(f.SymbolKey),
		"open":       f.Open,
		"high":       f.High,
		"low":        f.Low,
		"close":      f.Close,
		"volume":     f.Volume,
	}
}

func (f FactStockPriceYearly) Row() Row {
	return Row{
		"year":       f.Year,
		"symbol_key": nullableKey64(f.SymbolKey),
		"open":       f.Open,
		"high":       f.High,
		"low":        f.Low,
		"close":      f.Close,
		"volume":     f.Volume,
	}
}

func (d DimDate) Row() Row {
	return Row{
		"date_key":     nullableKey32(d.DateKey),
		"trading_date": d.TradingDate,
		"year":         d.Year,
		"month":        d.Month,
		"day":          d.Day,
	}
}

func (d DimSymbol) Row() Row {
	return Row{
		"symbol_key": nullableKey64(d.SymbolKey),
		"symbol":     d.Symbol,
		"exchange":   d.Exchange,
	}
}

// Rows adapts a slice of row-convertible records for the validator.
func Rows[T interface{ Row() Row }](records []T) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return rows
}
