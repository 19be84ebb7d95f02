package cleaner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "vnflow/config"
	"vnflow/logger"
	"vnflow/models"
)

// dateLayouts accepted for trading_date coercion, in order of preference.
var dateLayouts = []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "02/01/2006"}

// Stats summarizes one clean pass. Every dropped record is counted here;
// nothing leaves the cleaner untraced.
type Stats struct {
	Input    int                         `json:"input"`
	Accepted int                         `json:"accepted"`
	Rejected int                         `json:"rejected"`
	ByReason map[models.RejectReason]int `json:"by_reason"`
}

// RejectRatio returns the rejected fraction of the input batch.
func (s Stats) RejectRatio() float64 {
	if s.Input == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Input)
}

// ErrRejectRateExceeded escalates a high rejection rate to a stage
// failure: lots of bad rows means an upstream data problem, not noise.
type ErrRejectRateExceeded struct {
	Ratio float64
	Limit float64
	Stats Stats
}

func (e *ErrRejectRateExceeded) Error() string {
	return fmt.Sprintf("reject rate %.2f exceeds limit %.2f (%d of %d records rejected)",
		e.Ratio, e.Limit, e.Stats.Rejected, e.Stats.Input)
}

// Cleaner turns raw bronze records into canonical silver records.
type Cleaner struct {
	config *appconfig.Config
	log    *logger.Log
}

func New(cfg *appconfig.Config) *Cleaner {
	return &Cleaner{
		config: cfg,
		log:    logger.GetLogger(),
	}
}

// coerceResult carries one worker's outcome for a single input index.
type coerceResult struct {
	record models.SilverPriceRecord
	reject *models.RejectedRecord
}

// Clean applies, in order: type coercion, deduplication on
// (trading_date, symbol), range checks, and surrogate key assignment.
// Coercion is fanned out across workers; dedup only runs once every
// record of the batch is visible. Output is sorted by (symbol,
// trading_date) so identical inputs produce identical silver sets.
func (c *Cleaner) Clean(ctx context.Context, raw []models.RawPriceRecord) ([]models.SilverPriceRecord, []models.RejectedRecord, Stats, error) {
	log := c.log.WithComponent("cleaner").WithFields(logger.Fields{"input": len(raw)})
	log.Info("cleaning raw batch")

	stats := Stats{
		Input:    len(raw),
		ByReason: make(map[models.RejectReason]int),
	}
	if len(raw) == 0 {
		log.Warn("input batch is empty")
		return nil, nil, stats, nil
	}

	results := c.coerceAll(ctx, raw)
	if err := ctx.Err(); err != nil {
		return nil, nil, stats, err
	}

	rejected := make([]models.RejectedRecord, 0)
	coerced := make([]models.SilverPriceRecord, 0, len(raw))
	for _, res := range results {
		if res.reject != nil {
			rejected = append(rejected, *res.reject)
			continue
		}
		coerced = append(coerced, res.record)
	}

	deduped, duplicates := dedupe(coerced)
	rejected = append(rejected, duplicates...)

	silver := make([]models.SilverPriceRecord, 0, len(deduped))
	for _, rec := range deduped {
		if detail, bad := rangeViolation(rec); bad {
			rejected = append(rejected, models.RejectedRecord{
				Raw:    rawFor(rec),
				Reason: models.RejectInvalidRange,
				Detail: detail,
			})
			continue
		}
		rec.DateKey = DateKey(rec.TradingDate)
		rec.SymbolKey = SymbolKey(rec.Symbol, rec.Exchange)
		silver = append(silver, rec)
	}

	sort.Slice(silver, func(i, j int) bool {
		if silver[i].Symbol != silver[j].Symbol {
			return silver[i].Symbol < silver[j].Symbol
		}
		return silver[i].TradingDate.Before(silver[j].TradingDate)
	})

	stats.Accepted = len(silver)
	stats.Rejected = len(rejected)
	for _, rej := range rejected {
		stats.ByReason[rej.Reason]++
		logger.IncrementRejected(string(rej.Reason), 1)
	}
	logger.IncrementSilverAccepted(len(silver))

	log.WithFields(logger.Fields{
		"accepted": stats.Accepted,
		"rejected": stats.Rejected,
	}).Info("clean pass finished")

	if limit := c.config.Cleaner.MaxRejectRatio; limit > 0 && stats.RejectRatio() > limit {
		err := &ErrRejectRateExceeded{Ratio: stats.RejectRatio(), Limit: limit, Stats: stats}
		log.WithError(err).Error("rejection rate above threshold")
		return silver, rejected, stats, err
	}

	return silver, rejected, stats, nil
}

// coerceAll runs coercion across a worker pool. Workers write to disjoint
// indices of the result slice, so input order is preserved without locks.
func (c *Cleaner) coerceAll(ctx context.Context, raw []models.RawPriceRecord) []coerceResult {
	numWorkers := c.config.Cleaner.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(raw) {
		numWorkers = len(raw)
	}

	results := make([]coerceResult, len(raw))
	indexes := make(chan int)
	wg := &sync.WaitGroup{}
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = coerce(raw[i])
			}
		}()
	}

	for i := range raw {
		select {
		case <-ctx.Done():
			close(indexes)
			wg.Wait()
			return results
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	return results
}

func coerce(raw models.RawPriceRecord) coerceResult {
	reject := func(detail string) coerceResult {
		return coerceResult{reject: &models.RejectedRecord{
			Raw:    raw,
			Reason: models.RejectCoercionFailed,
			Detail: detail,
		}}
	}

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return reject("symbol is empty")
	}
	exchange := strings.ToUpper(strings.TrimSpace(raw.Exchange))
	if exchange == "" {
		return reject("exchange is empty")
	}

	tradingDate, err := parseTradingDate(raw.TradingDate)
	if err != nil {
		return reject(fmt.Sprintf("trading_date: %v", err))
	}

	prices := [4]float64{}
	for i, field := range []struct {
		name  string
		value string
	}{
		{"open", raw.Open},
		{"high", raw.High},
		{"low", raw.Low},
		{"close", raw.Close},
	} {
		prices[i], err = strconv.ParseFloat(strings.TrimSpace(field.value), 64)
		if err != nil {
			return reject(fmt.Sprintf("%s: unparseable number %q", field.name, field.value))
		}
	}

	volume, err := parseVolume(raw.Volume)
	if err != nil {
		return reject(fmt.Sprintf("volume: %v", err))
	}

	return coerceResult{record: models.SilverPriceRecord{
		Symbol:      symbol,
		Exchange:    exchange,
		TradingDate: tradingDate,
		Open:        prices[0],
		High:        prices[1],
		Low:         prices[2],
		Close:       prices[3],
		Volume:      volume,
		IngestedAt:  raw.IngestedAt,
	}}
}

func parseTradingDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			// Normalize to midnight UTC; calendar day is the grain.
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func parseVolume(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return v, nil
	}
	// The source sometimes reports volume as an integer-valued float.
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("unparseable volume %q", value)
	}
	return int64(f), nil
}

// dedupe keeps one record per (trading_date, symbol). The survivor is the
// record with the latest ingestion timestamp; when no timestamps are
// available the last record in input order wins. That tie-break is a
// deliberate, documented policy, not an accident of map iteration.
func dedupe(records []models.SilverPriceRecord) ([]models.SilverPriceRecord, []models.RejectedRecord) {
	survivors := make(map[string]models.SilverPriceRecord, len(records))
	order := make([]string, 0, len(records))
	duplicates := make([]models.RejectedRecord, 0)

	keyOf := func(r models.SilverPriceRecord) string {
		return r.TradingDate.Format("2006-01-02") + "|" + r.Symbol
	}

	for _, rec := range records {
		key := keyOf(rec)
		existing, seen := survivors[key]
		if !seen {
			survivors[key] = rec
			order = append(order, key)
			continue
		}

		loser := existing
		if !rec.IngestedAt.Before(existing.IngestedAt) {
			// Newer ingestion wins; equal or missing timestamps fall
			// back to input order, so the later record replaces.
			survivors[key] = rec
		} else {
			loser = rec
		}
		duplicates = append(duplicates, models.RejectedRecord{
			Raw:    rawFor(loser),
			Reason: models.RejectDuplicate,
			Detail: fmt.Sprintf("duplicate of (%s, %s)", loser.TradingDate.Format("2006-01-02"), loser.Symbol),
		})
	}

	out := make([]models.SilverPriceRecord, 0, len(order))
	for _, key := range order {
		out = append(out, survivors[key])
	}
	return out, duplicates
}

func rangeViolation(rec models.SilverPriceRecord) (string, bool) {
	if rec.High < rec.Low {
		return fmt.Sprintf("high %.4f below low %.4f", rec.High, rec.Low), true
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"open", rec.Open}, {"high", rec.High}, {"low", rec.Low}, {"close", rec.Close},
	} {
		if p.value < 0 {
			return fmt.Sprintf("negative %s %.4f", p.name, p.value), true
		}
	}
	if rec.Volume < 0 {
		return fmt.Sprintf("negative volume %d", rec.Volume), true
	}
	return "", false
}

// rawFor rebuilds a raw-shaped view of a coerced record for the rejected
// set, so every rejection carries the offending natural key.
func rawFor(rec models.SilverPriceRecord) models.RawPriceRecord {
	return models.RawPriceRecord{
		Symbol:      rec.Symbol,
		TradingDate: rec.TradingDate.Format("2006-01-02"),
		Open:        strconv.FormatFloat(rec.Open, 'f', -1, 64),
		High:        strconv.FormatFloat(rec.High, 'f', -1, 64),
		Low:         strconv.FormatFloat(rec.Low, 'f', -1, 64),
		Close:       strconv.FormatFloat(rec.Close, 'f', -1, 64),
		Volume:      strconv.FormatInt(rec.Volume, 10),
		Exchange:    rec.Exchange,
		IngestedAt:  rec.IngestedAt,
	}
}
