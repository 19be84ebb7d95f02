package facts

import (
	"sort"

	"vnflow/cleaner"
	"vnflow/logger"
	"vnflow/models"
)

// Builder derives the gold fact and dimension tables from the accepted
// silver set. All builds are pure: the same silver input always yields the
// same gold tables, row for row.
type Builder struct {
	log *logger.Log
}

func NewBuilder() *Builder {
	return &Builder{log: logger.GetLogger()}
}

// Build materializes the full gold set for one run.
func (b *Builder) Build(silver []models.SilverPriceRecord) models.GoldTables {
	daily := b.BuildDaily(silver)
	dimDate, dimSymbol := b.BuildDimensions(silver)
	gold := models.GoldTables{
		Daily:     daily,
		Monthly:   b.BuildMonthly(daily),
		Yearly:    b.BuildYearly(daily),
		DimDate:   dimDate,
		DimSymbol: dimSymbol,
	}

	logger.RecordTableRows(models.TableFactStockPrice, len(gold.Daily))
	logger.RecordTableRows(models.TableFactStockPriceMonthly, len(gold.Monthly))
	logger.RecordTableRows(models.TableFactStockPriceYearly, len(gold.Yearly))
	logger.RecordTableRows(models.TableDimDate, len(gold.DimDate))
	logger.RecordTableRows(models.TableDimSymbol, len(gold.DimSymbol))

	b.log.WithComponent("fact_builder").WithFields(logger.Fields{
		"daily":      len(gold.Daily),
		"monthly":    len(gold.Monthly),
		"yearly":     len(gold.Yearly),
		"dim_date":   len(gold.DimDate),
		"dim_symbol": len(gold.DimSymbol),
	}).Info("gold tables built")

	return gold
}

// BuildDaily projects each silver record into one daily fact row. This is
// a narrow projection; silver already guarantees grain uniqueness.
func (b *Builder) BuildDaily(silver []models.SilverPriceRecord) []models.FactStockPriceDaily {
	daily := make([]models.FactStockPriceDaily, len(silver))
	for i, rec := range silver {
		daily[i] = models.FactStockPriceDaily{
			DateKey:   rec.DateKey,
			SymbolKey: rec.SymbolKey,
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			Volume:    rec.Volume,
		}
	}
	sort.Slice(daily, func(i, j int) bool {
		if daily[i].SymbolKey != daily[j].SymbolKey {
			return daily[i].SymbolKey < daily[j].SymbolKey
		}
		return daily[i].DateKey < daily[j].DateKey
	})
	return daily
}

// BuildMonthly rolls daily facts up to (year_month, symbol_key) grain.
func (b *Builder) BuildMonthly(daily []models.FactStockPriceDaily) []models.FactStockPriceMonthly {
	groups := rollup(daily, cleaner.MonthOf)
	monthly := make([]models.FactStockPriceMonthly, len(groups))
	for i, g := range groups {
		monthly[i] = models.FactStockPriceMonthly{
			YearMonth: g.period,
			SymbolKey: g.symbolKey,
			Open:      g.open,
			High:      g.high,
			Low:       g.low,
			Close:     g.close,
			Volume:    g.volume,
		}
	}
	return monthly
}

// BuildYearly rolls daily facts up to (year, symbol_key) grain using the
// same aggregation rules as the monthly rollup.
func (b *Builder) BuildYearly(daily []models.FactStockPriceDaily) []models.FactStockPriceYearly {
	groups := rollup(daily, cleaner.YearOf)
	yearly := make([]models.FactStockPriceYearly, len(groups))
	for i, g := range groups {
		yearly[i] = models.FactStockPriceYearly{
			Year:      g.period,
			SymbolKey: g.symbolKey,
			Open:      g.open,
			High:      g.high,
			Low:       g.low,
			Close:     g.close,
			Volume:    g.volume,
		}
	}
	return yearly
}

// BuildDimensions derives the date and symbol dimensions from the silver
// set. A dimension row exists exactly when at least one silver record of
// the current run references it; attributes come from the natural key,
// never from outside.
func (b *Builder) BuildDimensions(silver []models.SilverPriceRecord) ([]models.DimDate, []models.DimSymbol) {
	dates := make(map[int32]models.DimDate)
	symbols := make(map[int64]models.DimSymbol)
	for _, rec := range silver {
		if _, seen := dates[rec.DateKey]; !seen {
			dates[rec.DateKey] = models.DimDate{
				DateKey:     rec.DateKey,
				TradingDate: rec.TradingDate,
				Year:        int32(rec.TradingDate.Year()),
				Month:       int32(rec.TradingDate.Month()),
				Day:         int32(rec.TradingDate.Day()),
			}
		}
		if _, seen := symbols[rec.SymbolKey]; !seen {
			symbols[rec.SymbolKey] = models.DimSymbol{
				SymbolKey: rec.SymbolKey,
				Symbol:    rec.Symbol,
				Exchange:  rec.Exchange,
			}
		}
	}

	dimDate := make([]models.DimDate, 0, len(dates))
	for _, d := range dates {
		dimDate = append(dimDate, d)
	}
	sort.Slice(dimDate, func(i, j int) bool { return dimDate[i].DateKey < dimDate[j].DateKey })

	dimSymbol := make([]models.DimSymbol, 0, len(symbols))
	for _, s := range symbols {
		dimSymbol = append(dimSymbol, s)
	}
	sort.Slice(dimSymbol, func(i, j int) bool {
		if dimSymbol[i].Symbol != dimSymbol[j].Symbol {
			return dimSymbol[i].Symbol < dimSymbol[j].Symbol
		}
		return dimSymbol[i].Exchange < dimSymbol[j].Exchange
	})

	return dimDate, dimSymbol
}

// group accumulates one (period, symbol_key) rollup. open/close follow the
// earliest/latest trading date in the group; high/low/volume are
// max/min/sum across it.
type group struct {
	period     int32
	symbolKey  int64
	open       float64
	high       float64
	low        float64
	close      float64
	volume     int64
	firstDate  int32
	latestDate int32
}

type groupKey struct {
	period    int32
	symbolKey int64
}

// rollup aggregates daily rows by (period, symbol_key). Groups only exist
// where qualifying rows exist; no synthetic zero rows are materialized.
// Output is sorted by grain key for deterministic re-runs.
func rollup(daily []models.FactStockPriceDaily, periodOf func(dateKey int32) int32) []group {
	groups := make(map[groupKey]*group)
	for _, row := range daily {
		key := groupKey{period: periodOf(row.DateKey), symbolKey: row.SymbolKey}
		g, seen := groups[key]
		if !seen {
			groups[key] = &group{
				period:     key.period,
				symbolKey:  key.symbolKey,
				open:       row.Open,
				high:       row.High,
				low:        row.Low,
				close:      row.Close,
				volume:     row.Volume,
				firstDate:  row.DateKey,
				latestDate: row.DateKey,
			}
			continue
		}
		if row.DateKey < g.firstDate {
			g.firstDate = row.DateKey
			g.open = row.Open
		}
		if row.DateKey >= g.latestDate {
			g.latestDate = row.DateKey
			g.close = row.Close
		}
		if row.High > g.high {
			g.high = row.High
		}
		if row.Low < g.low {
			g.low = row.Low
		}
		g.volume += row.Volume
	}

	out := make([]group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].period != out[j].period {
			return out[i].period < out[j].period
		}
		return out[i].symbolKey < out[j].symbolKey
	})
	return out
}
