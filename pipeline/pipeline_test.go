package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	appconfig "vnflow/config"
	"vnflow/models"
	"vnflow/quality"
	"vnflow/schema"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	registry, err := schema.LoadDir("../schemas")
	if err != nil {
		t.Fatalf("load schemas: %v", err)
	}
	cfg := &appconfig.Config{
		Cleaner: appconfig.CleanerConfig{
			MaxWorkers:     2,
			MaxRejectRatio: 0.5,
		},
		Quality: appconfig.QualityConfig{SampleLimit: 10},
	}
	return NewRunner(cfg, registry)
}

func rawBatch() []models.RawPriceRecord {
	return []models.RawPriceRecord{
		{Symbol: "VNM", TradingDate: "2024-03-04", Open: "10.0", High: "11.0", Low: "9.5", Close: "10.5", Volume: "100", Exchange: "HOSE"},
		{Symbol: "VNM", TradingDate: "2024-03-05", Open: "10.5", High: "11.5", Low: "10.0", Close: "11.0", Volume: "150", Exchange: "HOSE"},
		{Symbol: "FPT", TradingDate: "2024-03-04", Open: "20.0", High: "22.0", Low: "19.0", Close: "21.0", Volume: "200", Exchange: "HOSE"},
		{Symbol: "VNM", TradingDate: "2024-04-02", Open: "11.0", High: "12.0", Low: "10.5", Close: "11.5", Volume: "300", Exchange: "HOSE"},
	}
}

func TestRunFullPipeline(t *testing.T) {
	runner := testRunner(t)
	result, err := runner.Run(context.Background(), rawBatch())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Safe {
		t.Fatal("successful run must be marked safe")
	}
	if result.RunID == "" {
		t.Error("run id missing")
	}

	if len(result.Silver) != 4 {
		t.Errorf("silver rows = %d, want 4", len(result.Silver))
	}
	if len(result.Gold.Daily) != 4 {
		t.Errorf("daily facts = %d, want 4", len(result.Gold.Daily))
	}
	// VNM spans two months; FPT one.
	if len(result.Gold.Monthly) != 3 {
		t.Errorf("monthly facts = %d, want 3", len(result.Gold.Monthly))
	}
	if len(result.Gold.Yearly) != 2 {
		t.Errorf("yearly facts = %d, want 2", len(result.Gold.Yearly))
	}
	if len(result.Gold.DimDate) != 3 || len(result.Gold.DimSymbol) != 2 {
		t.Errorf("dims = %d dates, %d symbols", len(result.Gold.DimDate), len(result.Gold.DimSymbol))
	}

	if result.SilverReport == nil || !result.SilverReport.Clean() {
		t.Error("silver report missing or dirty")
	}
	if len(result.GoldReports) != 5 {
		t.Errorf("gold reports = %d, want 5", len(result.GoldReports))
	}
	if result.Quality == nil || !result.Quality.Passed() {
		t.Error("quality report missing or failed")
	}
}

func TestRunIdempotent(t *testing.T) {
	runner := testRunner(t)
	first, err := runner.Run(context.Background(), rawBatch())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runner.Run(context.Background(), rawBatch())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.Silver, second.Silver) {
		t.Error("silver differs between identical runs")
	}
	if !reflect.DeepEqual(first.Gold, second.Gold) {
		t.Error("gold differs between identical runs")
	}
}

func TestRunRejectsBadRecords(t *testing.T) {
	runner := testRunner(t)
	raw := append(rawBatch(), models.RawPriceRecord{
		Symbol: "HPG", TradingDate: "2024-03-04",
		Open: "x", High: "31", Low: "29", Close: "30", Volume: "50", Exchange: "HOSE",
	})

	result, err := runner.Run(context.Background(), raw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != models.RejectCoercionFailed {
		t.Fatalf("expected one coercion rejection, got %+v", result.Rejected)
	}
	if !result.Safe {
		t.Error("run with rejections under the threshold must still be safe")
	}
}

func TestRunCleanStageFailure(t *testing.T) {
	runner := testRunner(t)
	raw := []models.RawPriceRecord{
		{Symbol: "VNM", TradingDate: "bad", Open: "10", High: "11", Low: "9", Close: "10", Volume: "1", Exchange: "HOSE"},
		{Symbol: "FPT", TradingDate: "also-bad", Open: "20", High: "21", Low: "19", Close: "20", Volume: "1", Exchange: "HOSE"},
		{Symbol: "HPG", TradingDate: "2024-03-04", Open: "30", High: "31", Low: "29", Close: "30", Volume: "1", Exchange: "HOSE"},
	}

	result, err := runner.Run(context.Background(), raw)
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != StageClean {
		t.Errorf("stage = %s, want %s", stageErr.Stage, StageClean)
	}
	if result.Safe {
		t.Error("failed run must not be safe")
	}
	// The survivors are still returned for inspection.
	if len(result.Silver) != 1 {
		t.Errorf("silver rows = %d, want 1", len(result.Silver))
	}
}

func TestRunQualityStageKeepsGold(t *testing.T) {
	runner := testRunner(t)
	result, err := runner.Run(context.Background(), rawBatch())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Corrupt the gold set and re-check; a quality failure leaves the
	// tables in place but withdraws the safe flag.
	gold := result.Gold
	gold.Daily = append(gold.Daily, gold.Daily[0])
	report := quality.NewChecker(10).Check(gold)
	if report.Passed() {
		t.Fatal("duplicated grain must fail quality")
	}
}

func TestRunEmptyBatch(t *testing.T) {
	runner := testRunner(t)
	result, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Safe {
		t.Error("empty run must succeed")
	}
	if len(result.Gold.Daily) != 0 {
		t.Errorf("daily facts = %d, want 0", len(result.Gold.Daily))
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageValidateGold, Table: models.TableFactStockPrice, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StageError must unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("empty error string")
	}
}
