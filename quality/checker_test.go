package quality

import (
	"strings"
	"testing"
	"time"

	"vnflow/models"
)

func cleanGold() models.GoldTables {
	return models.GoldTables{
		Daily: []models.FactStockPriceDaily{
			{DateKey: 20240304, SymbolKey: 101, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
			{DateKey: 20240305, SymbolKey: 101, Open: 10.5, High: 11.5, Low: 10, Close: 11, Volume: 150},
			{DateKey: 20240304, SymbolKey: 202, Open: 20, High: 22, Low: 19, Close: 21, Volume: 200},
		},
		Monthly: []models.FactStockPriceMonthly{
			{YearMonth: 202403, SymbolKey: 101, Open: 10, High: 11.5, Low: 9, Close: 11, Volume: 250},
			{YearMonth: 202403, SymbolKey: 202, Open: 20, High: 22, Low: 19, Close: 21, Volume: 200},
		},
		Yearly: []models.FactStockPriceYearly{
			{Year: 2024, SymbolKey: 101, Open: 10, High: 11.5, Low: 9, Close: 11, Volume: 250},
			{Year: 2024, SymbolKey: 202, Open: 20, High: 22, Low: 19, Close: 21, Volume: 200},
		},
		DimDate: []models.DimDate{
			{DateKey: 20240304, TradingDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Year: 2024, Month: 3, Day: 4},
			{DateKey: 20240305, TradingDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Year: 2024, Month: 3, Day: 5},
		},
		DimSymbol: []models.DimSymbol{
			{SymbolKey: 101, Symbol: "VNM", Exchange: "HOSE"},
			{SymbolKey: 202, Symbol: "FPT", Exchange: "HOSE"},
		},
	}
}

func resultFor(t *testing.T, report *QualityReport, check, table string) CheckResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Check == check && res.Table == table {
			return res
		}
	}
	t.Fatalf("no %s result for %s", check, table)
	return CheckResult{}
}

func TestCheckCleanGoldPasses(t *testing.T) {
	report := NewChecker(10).Check(cleanGold())
	if !report.Passed() {
		t.Fatalf("clean gold failed checks: %s", report.Summary())
	}
	if report.TotalViolations() != 0 {
		t.Errorf("expected zero violations, got %d", report.TotalViolations())
	}
}

func TestCheckDuplicateGrain(t *testing.T) {
	gold := cleanGold()
	gold.Daily = append(gold.Daily, gold.Daily[0])

	report := NewChecker(10).Check(gold)
	if report.Passed() {
		t.Fatal("duplicated grain must fail the report")
	}
	res := resultFor(t, report, CheckDuplicateGrain, models.TableFactStockPrice)
	if res.Violations != 1 {
		t.Errorf("expected 1 duplicated key, got %d", res.Violations)
	}
	if len(res.SampleKeys) != 1 || !strings.Contains(res.SampleKeys[0], "20240304|101") {
		t.Errorf("unexpected samples %v", res.SampleKeys)
	}
}

func TestCheckNullSurrogateKey(t *testing.T) {
	gold := cleanGold()
	gold.Daily = append(gold.Daily, models.FactStockPriceDaily{DateKey: 20240306, SymbolKey: 0})
	gold.DimDate = append(gold.DimDate, models.DimDate{DateKey: 20240306})

	report := NewChecker(10).Check(gold)
	res := resultFor(t, report, CheckNullKey, models.TableFactStockPrice)
	if res.Violations != 1 {
		t.Errorf("expected 1 null-key violation, got %d", res.Violations)
	}

	// A zero key is a null, not an orphan; it must not be double counted.
	orphan := resultFor(t, report, CheckOrphanKey, models.TableFactStockPrice)
	if orphan.Violations != 0 {
		t.Errorf("null key also reported as orphan: %+v", orphan)
	}
}

func TestCheckOrphanForeignKey(t *testing.T) {
	gold := cleanGold()
	// Keys that exist nowhere in the dimensions.
	gold.Daily = append(gold.Daily, models.FactStockPriceDaily{DateKey: 20240304, SymbolKey: 999})

	report := NewChecker(10).Check(gold)
	res := resultFor(t, report, CheckOrphanKey, models.TableFactStockPrice)
	if res.Violations != 1 {
		t.Fatalf("expected exactly 1 orphan, got %d", res.Violations)
	}
	if res.SampleKeys[0] != "symbol_key=999" {
		t.Errorf("unexpected sample %q", res.SampleKeys[0])
	}
}

func TestCheckNullKeyInRollups(t *testing.T) {
	gold := cleanGold()
	gold.Monthly = append(gold.Monthly, models.FactStockPriceMonthly{YearMonth: 202403, SymbolKey: 0})

	report := NewChecker(10).Check(gold)
	res := resultFor(t, report, CheckNullKey, models.TableFactStockPriceMonthly)
	if res.Violations != 1 {
		t.Fatalf("expected 1 null-key violation, got %d", res.Violations)
	}
	// Rollup tables have no date_key column; samples must only name the
	// columns the table actually carries.
	if len(res.SampleKeys) != 1 || strings.Contains(res.SampleKeys[0], "date_key") {
		t.Errorf("unexpected sample %v", res.SampleKeys)
	}
	if !strings.Contains(res.SampleKeys[0], "symbol_key=0") {
		t.Errorf("sample does not name the null column: %v", res.SampleKeys)
	}
}

func TestCheckOrphanInRollups(t *testing.T) {
	gold := cleanGold()
	gold.Monthly = append(gold.Monthly, models.FactStockPriceMonthly{YearMonth: 202403, SymbolKey: 777})
	gold.Yearly = append(gold.Yearly, models.FactStockPriceYearly{Year: 2024, SymbolKey: 777})

	report := NewChecker(10).Check(gold)
	if res := resultFor(t, report, CheckOrphanKey, models.TableFactStockPriceMonthly); res.Violations != 1 {
		t.Errorf("monthly orphan violations = %d", res.Violations)
	}
	if res := resultFor(t, report, CheckOrphanKey, models.TableFactStockPriceYearly); res.Violations != 1 {
		t.Errorf("yearly orphan violations = %d", res.Violations)
	}
}

func TestCheckSampleLimit(t *testing.T) {
	gold := cleanGold()
	for i := int64(0); i < 20; i++ {
		gold.Daily = append(gold.Daily, models.FactStockPriceDaily{DateKey: 20240304, SymbolKey: 1000 + i})
	}

	report := NewChecker(3).Check(gold)
	res := resultFor(t, report, CheckOrphanKey, models.TableFactStockPrice)
	if res.Violations != 20 {
		t.Errorf("violations = %d, want 20", res.Violations)
	}
	if len(res.SampleKeys) != 3 {
		t.Errorf("samples must be capped at 3, got %d", len(res.SampleKeys))
	}
}

func TestCheckEmptyGold(t *testing.T) {
	report := NewChecker(10).Check(models.GoldTables{})
	if !report.Passed() {
		t.Errorf("empty gold must pass: %s", report.Summary())
	}
}

func TestSummaryNamesFailingChecks(t *testing.T) {
	gold := cleanGold()
	gold.Daily = append(gold.Daily, gold.Daily[0])

	report := NewChecker(10).Check(gold)
	summary := report.Summary()
	if !strings.Contains(summary, CheckDuplicateGrain) || !strings.Contains(summary, models.TableFactStockPrice) {
		t.Errorf("summary missing failing check: %q", summary)
	}
}
