package quality

import (
	"fmt"
	"sort"
	"strings"

	"vnflow/logger"
	"vnflow/models"
)

// Check names reported by the checker.
const (
	CheckDuplicateGrain = "duplicate_grain"
	CheckNullKey        = "null_surrogate_key"
	CheckOrphanKey      = "orphan_foreign_key"
)

// CheckResult is the outcome of one check over one table.
type CheckResult struct {
	Check      string   `json:"check"`
	Table      string   `json:"table"`
	Violations int      `json:"violations"`
	SampleKeys []string `json:"sample_keys,omitempty"`
}

// QualityReport aggregates every invariant check over the gold output of a
// run. An all-zero report is required before the run is marked successful.
type QualityReport struct {
	Results []CheckResult `json:"results"`
}

// Passed reports whether every check came back clean.
func (r *QualityReport) Passed() bool {
	return r.TotalViolations() == 0
}

// TotalViolations sums violations across all checks and tables.
func (r *QualityReport) TotalViolations() int {
	total := 0
	for _, res := range r.Results {
		total += res.Violations
	}
	return total
}

// Summary renders the failing checks for stage failure errors.
func (r *QualityReport) Summary() string {
	if r.Passed() {
		return "all quality checks passed"
	}
	parts := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Violations == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s on %s: %d (e.g. %s)",
			res.Check, res.Table, res.Violations, strings.Join(res.SampleKeys, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Checker runs grain, key, and referential integrity checks over the full
// gold output, never a sample.
type Checker struct {
	log         *logger.Log
	sampleLimit int
}

func NewChecker(sampleLimit int) *Checker {
	if sampleLimit <= 0 {
		sampleLimit = 10
	}
	return &Checker{
		log:         logger.GetLogger(),
		sampleLimit: sampleLimit,
	}
}

// Check runs every invariant check over the gold tables and returns the
// combined report.
func (c *Checker) Check(gold models.GoldTables) *QualityReport {
	log := c.log.WithComponent("quality_checker")

	dateKeys := make(map[int32]struct{}, len(gold.DimDate))
	for _, d := range gold.DimDate {
		dateKeys[d.DateKey] = struct{}{}
	}
	symbolKeys := make(map[int64]struct{}, len(gold.DimSymbol))
	for _, s := range gold.DimSymbol {
		symbolKeys[s.SymbolKey] = struct{}{}
	}

	report := &QualityReport{}
	report.Results = append(report.Results,
		c.duplicateGrain(models.TableFactStockPrice, dailyGrainKeys(gold.Daily)),
		c.duplicateGrain(models.TableFactStockPriceMonthly, monthlyGrainKeys(gold.Monthly)),
		c.duplicateGrain(models.TableFactStockPriceYearly, yearlyGrainKeys(gold.Yearly)),
		nullKeys(c, models.TableFactStockPrice, gold.Daily, func(f models.FactStockPriceDaily) (int32, int64) {
			return f.DateKey, f.SymbolKey
		}),
		// Monthly and yearly grains have no date_key column; only the
		// symbol key can be null there.
		nullSymbolKeys(c, models.TableFactStockPriceMonthly, gold.Monthly, func(f models.FactStockPriceMonthly) int64 {
			return f.SymbolKey
		}),
		nullSymbolKeys(c, models.TableFactStockPriceYearly, gold.Yearly, func(f models.FactStockPriceYearly) int64 {
			return f.SymbolKey
		}),
	)
	report.Results = append(report.Results, c.orphans(gold, dateKeys, symbolKeys)...)

	for _, res := range report.Results {
		if res.Violations > 0 {
			log.WithFields(logger.Fields{
				"check":      res.Check,
				"table":      res.Table,
				"violations": res.Violations,
				"samples":    res.SampleKeys,
			}).Error("quality check failed")
		}
	}
	if report.Passed() {
		log.Info("all quality checks passed")
	}
	return report
}

func (c *Checker) duplicateGrain(table string, keys []string) CheckResult {
	res := CheckResult{Check: CheckDuplicateGrain, Table: table}
	counts := make(map[string]int, len(keys))
	for _, key := range keys {
		counts[key]++
	}
	duplicated := make([]string, 0)
	for key, n := range counts {
		if n > 1 {
			duplicated = append(duplicated, fmt.Sprintf("%s (%d rows)", key, n))
		}
	}
	sort.Strings(duplicated)
	res.Violations = len(duplicated)
	for _, key := range duplicated {
		c.addSample(&res, key)
	}
	return res
}

func nullKeys[T any](c *Checker, table string, rows []T, keysOf func(T) (int32, int64)) CheckResult {
	res := CheckResult{Check: CheckNullKey, Table: table}
	for i, row := range rows {
		dateKey, symbolKey := keysOf(row)
		if dateKey == 0 || symbolKey == 0 {
			res.Violations++
			c.addSample(&res, fmt.Sprintf("row %d (date_key=%d symbol_key=%d)", i, dateKey, symbolKey))
		}
	}
	return res
}

func nullSymbolKeys[T any](c *Checker, table string, rows []T, keyOf func(T) int64) CheckResult {
	res := CheckResult{Check: CheckNullKey, Table: table}
	for i, row := range rows {
		if keyOf(row) == 0 {
			res.Violations++
			c.addSample(&res, fmt.Sprintf("row %d (symbol_key=0)", i))
		}
	}
	return res
}

func (c *Checker) orphans(gold models.GoldTables, dateKeys map[int32]struct{}, symbolKeys map[int64]struct{}) []CheckResult {
	daily := CheckResult{Check: CheckOrphanKey, Table: models.TableFactStockPrice}
	for _, f := range gold.Daily {
		if _, ok := dateKeys[f.DateKey]; !ok && f.DateKey != 0 {
			daily.Violations++
			c.addSample(&daily, fmt.Sprintf("date_key=%d", f.DateKey))
		}
		if _, ok := symbolKeys[f.SymbolKey]; !ok && f.SymbolKey != 0 {
			daily.Violations++
			c.addSample(&daily, fmt.Sprintf("symbol_key=%d", f.SymbolKey))
		}
	}

	monthly := CheckResult{Check: CheckOrphanKey, Table: models.TableFactStockPriceMonthly}
	for _, f := range gold.Monthly {
		if _, ok := symbolKeys[f.SymbolKey]; !ok && f.SymbolKey != 0 {
			monthly.Violations++
			c.addSample(&monthly, fmt.Sprintf("symbol_key=%d", f.SymbolKey))
		}
	}

	yearly := CheckResult{Check: CheckOrphanKey, Table: models.TableFactStockPriceYearly}
	for _, f := range gold.Yearly {
		if _, ok := symbolKeys[f.SymbolKey]; !ok && f.SymbolKey != 0 {
			yearly.Violations++
			c.addSample(&yearly, fmt.Sprintf("symbol_key=%d", f.SymbolKey))
		}
	}

	return []CheckResult{daily, monthly, yearly}
}

func (c *Checker) addSample(res *CheckResult, key string) {
	if len(res.SampleKeys) < c.sampleLimit {
		res.SampleKeys = append(res.SampleKeys, key)
	}
}

func dailyGrainKeys(rows []models.FactStockPriceDaily) []string {
	keys := make([]string, len(rows))
	for i, f := range rows {
		keys[i] = fmt.Sprintf("%d|%d", f.DateKey, f.SymbolKey)
	}
	return keys
}

func monthlyGrainKeys(rows []models.FactStockPriceMonthly) []string {
	keys := make([]string, len(rows))
	for i, f := range rows {
		keys[i] = fmt.Sprintf("%d|%d", f.YearMonth, f.SymbolKey)
	}
	return keys
}

func yearlyGrainKeys(rows []models.FactStockPriceYearly) []string {
	keys := make([]string, len(rows))
	for i, f := range rows {
		keys[i] = fmt.Sprintf("%d|%d", f.Year, f.SymbolKey)
	}
	return keys
}
