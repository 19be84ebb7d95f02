package models

import "time"

// Tier identifies a medallion layer of the warehouse.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Logical table names used by the load collaborator and the schema registry.
const (
	TableBronzeStockPrice      = "bronze_stock_price"
	TableSilverStockPrice      = "silver_stock_price"
	TableFactStockPrice        = "fact_stock_price"
	TableFactStockPriceMonthly = "fact_stock_price_monthly"
	TableFactStockPriceYearly  = "fact_stock_price_yearly"
	TableDimDate               = "dim_date"
	TableDimSymbol             = "dim_symbol"
)

// RejectReason classifies why the cleaner routed a raw record to the
// rejected set instead of silver.
type RejectReason string

const (
	RejectCoercionFailed RejectReason = "COERCION_FAILED"
	RejectInvalidRange   RejectReason = "INVALID_RANGE"
	RejectDuplicate      RejectReason = "DUPLICATE"
)

// RawPriceRecord is one ticker-day quote exactly as ingested. All price
// fields are kept as strings until the cleaner coerces them; the extraction
// source mixes numeric and string encodings depending on the endpoint.
type RawPriceRecord struct {
	Symbol      string `json:"symbol"`
	TradingDate string `json:"trading_date"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	Exchange    string `json:"exchange"`

	// IngestedAt is the ingestion timestamp when the source provides one.
	// Zero means unknown; dedup then falls back to input order.
	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

// SilverPriceRecord is the cleaned canonical quote. TradingDate is
// normalized to midnight UTC. DateKey and SymbolKey are derived surrogate
// keys, stable across runs for the same natural key.
type SilverPriceRecord struct {
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	TradingDate time.Time `json:"trading_date"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      int64     `json:"volume"`
	DateKey     int32     `json:"date_key"`
	SymbolKey   int64     `json:"symbol_key"`
	IngestedAt  time.Time `json:"ingested_at,omitempty"`
}

// RejectedRecord pairs a raw record with the reason it was excluded from
// silver. Rejections are reported, never silently dropped.
type RejectedRecord struct {
	Raw    RawPriceRecord `json:"raw"`
	Reason RejectReason   `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// Row is a generic column-name keyed view of a record, consumed by the
// schema validator. Missing and nil entries both count as null.
type Row map[string]any

// Row converts the record into its columnar view. Zero surrogate keys are
// reported as null so the validator can flag them.
func (r SilverPriceRecord) Row() Row {
	return Row{
		"symbol":       r.Symbol,
		"exchange":     r.Exchange,
		"trading_date": r.TradingDate,
		"open":         r.Open,
		"high":         r.High,
		"low":          r.Low,
		"close":        r.Close,
		"volume":       r.Volume,
		"date_key":     nullableKey32(r.DateKey),
		"symbol_key":   nullableKey64(r.SymbolKey),
	}
}

func nullableKey32(k int32) any {
	if k == 0 {
		return nil
	}
	return k
}

func nullableKey64(k int64) any {
	if k == 0 {
		return nil
	}
	return k
}
