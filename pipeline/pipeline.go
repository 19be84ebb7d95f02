package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vnflow/cleaner"
	appconfig "vnflow/config"
	"vnflow/facts"
	"vnflow/logger"
	"vnflow/models"
	"vnflow/quality"
	"vnflow/schema"
)

// Stage names carried by StageError.
const (
	StageClean          = "clean"
	StageValidateSilver = "validate_silver"
	StageBuildGold      = "build_gold"
	StageValidateGold   = "validate_gold"
	StageQualityCheck   = "quality_check"
)

// StageError marks the stage and table at which promotion of a batch
// halted. It carries enough context to diagnose without re-running.
type StageError struct {
	Stage string
	Table string
	Err   error
}

func (e *StageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("stage %s failed on %s: %v", e.Stage, e.Table, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is everything one run produced: the silver and gold tables, the
// rejected set, and every report. On a quality failure the gold tables are
// still present but Safe is false: the output exists, it just is not
// cleared for consumption.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Safe     bool

	Silver       []models.SilverPriceRecord
	Rejected     []models.RejectedRecord
	CleanerStats cleaner.Stats
	Gold         models.GoldTables

	SilverReport *schema.ValidationReport
	GoldReports  map[string]*schema.ValidationReport
	Quality      *quality.QualityReport
}

// Runner wires the transform-and-validate core into one sequential batch
// run. All collaborators are injected through the constructor; nothing is
// read from ambient global state.
type Runner struct {
	config   *appconfig.Config
	registry *schema.Registry
	cleaner  *cleaner.Cleaner
	builder  *facts.Builder
	checker  *quality.Checker
	log      *logger.Log
}

func NewRunner(cfg *appconfig.Config, registry *schema.Registry) *Runner {
	return &Runner{
		config:   cfg,
		registry: registry,
		cleaner:  cleaner.New(cfg),
		builder:  facts.NewBuilder(),
		checker:  quality.NewChecker(cfg.Quality.SampleLimit),
		log:      logger.GetLogger(),
	}
}

// Run executes the stages strictly in order: clean, validate silver, build
// gold, validate gold, quality-check. No stage starts before its
// predecessor succeeds; the first failure halts promotion and is returned
// as a StageError alongside whatever the run produced so far.
func (r *Runner) Run(ctx context.Context, raw []models.RawPriceRecord) (*Result, error) {
	result := &Result{
		RunID:       uuid.NewString(),
		Started:     time.Now().UTC(),
		GoldReports: make(map[string]*schema.ValidationReport),
	}
	log := r.log.WithComponent("pipeline").WithFields(logger.Fields{
		"run_id": result.RunID,
		"raw":    len(raw),
	})
	log.Info("starting pipeline run")
	logger.IncrementRawRead(len(raw))

	// Clean
	silver, rejected, stats, err := r.cleaner.Clean(ctx, raw)
	result.Silver, result.Rejected, result.CleanerStats = silver, rejected, stats
	if err != nil {
		result.Finished = time.Now().UTC()
		return result, &StageError{Stage: StageClean, Err: err}
	}
	logger.RecordTableRows(models.TableSilverStockPrice, len(silver))

	// Validate silver
	silverSchema, err := r.registry.Lookup(models.TierSilver, models.TableSilverStockPrice)
	if err != nil {
		result.Finished = time.Now().UTC()
		return result, &StageError{Stage: StageValidateSilver, Table: models.TableSilverStockPrice, Err: err}
	}
	result.SilverReport = schema.Validate(models.Rows(silver), silverSchema)
	if !result.SilverReport.Clean() {
		result.Finished = time.Now().UTC()
		return result, &StageError{
			Stage: StageValidateSilver,
			Table: models.TableSilverStockPrice,
			Err:   fmt.Errorf("schema violations: %s", result.SilverReport.Summary()),
		}
	}

	// Build gold
	result.Gold = r.builder.Build(silver)

	// Validate gold
	for _, table := range []struct {
		name string
		rows []models.Row
	}{
		{models.TableFactStockPrice, models.Rows(result.Gold.Daily)},
		{models.TableFactStockPriceMonthly, models.Rows(result.Gold.Monthly)},
		{models.TableFactStockPriceYearly, models.Rows(result.Gold.Yearly)},
		{models.TableDimDate, models.Rows(result.Gold.DimDate)},
		{models.TableDimSymbol, models.Rows(result.Gold.DimSymbol)},
	} {
		goldSchema, err := r.registry.Lookup(models.TierGold, table.name)
		if err != nil {
			result.Finished = time.Now().UTC()
			return result, &StageError{Stage: StageValidateGold, Table: table.name, Err: err}
		}
		report := schema.Validate(table.rows, goldSchema)
		result.GoldReports[table.name] = report
		if !report.Clean() {
			result.Finished = time.Now().UTC()
			return result, &StageError{
				Stage: StageValidateGold,
				Table: table.name,
				Err:   fmt.Errorf("schema violations: %s", report.Summary()),
			}
		}
	}

	// Quality check over the full gold output
	result.Quality = r.checker.Check(result.Gold)
	result.Finished = time.Now().UTC()
	if !result.Quality.Passed() {
		// Gold was produced but is not safe for consumption until the
		// violations are resolved.
		return result, &StageError{
			Stage: StageQualityCheck,
			Err:   fmt.Errorf("quality violations: %s", result.Quality.Summary()),
		}
	}

	result.Safe = true
	log.WithFields(logger.Fields{
		"silver":   len(result.Silver),
		"rejected": len(result.Rejected),
		"daily":    len(result.Gold.Daily),
		"duration": result.Finished.Sub(result.Started).String(),
	}).Info("pipeline run succeeded")
	return result, nil
}
