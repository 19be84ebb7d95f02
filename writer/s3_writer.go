package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "vnflow/config"
	"vnflow/logger"
	"vnflow/models"
)

// s3API is the slice of the S3 client the writer needs.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer persists the raw bronze batch and the silver and gold tables as
// partitioned parquet objects. It is the load collaborator: the transform
// core hands it finished tables and it owns keys, retries and transport.
// Re-runs overwrite whole partitions under the same prefixes.
type S3Writer struct {
	config   *appconfig.Config
	s3Client s3API
	log      *logger.Log
}

func NewS3Writer(cfg *appconfig.Config) (*S3Writer, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	writer := &S3Writer{
		config:   cfg,
		s3Client: s3.NewFromConfig(awsCfg),
		log:      log,
	}

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
	}).Debug("s3 writer initialized")

	return writer, nil
}

// PersistRun writes every table of a finished run and returns the object
// keys it created, success markers included. The raw batch goes to the
// bronze path untouched, so a failed downstream stage can be replayed from
// exactly what was ingested.
func (w *S3Writer) PersistRun(ctx context.Context, raw []models.RawPriceRecord, silver []models.SilverPriceRecord, gold models.GoldTables, runDate time.Time) ([]string, error) {
	var written []string

	persist := func(tier models.Tier, table string, partitions map[string][]byte) error {
		keys, err := w.writeTable(ctx, tier, table, partitions, runDate)
		if err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		written = append(written, keys...)
		return nil
	}

	bronzeParts, err := w.bronzePartitions(raw)
	if err != nil {
		return written, err
	}
	if err := persist(models.TierBronze, models.TableBronzeStockPrice, bronzeParts); err != nil {
		return written, err
	}

	silverParts, err := w.silverPartitions(silver)
	if err != nil {
		return written, err
	}
	if err := persist(models.TierSilver, models.TableSilverStockPrice, silverParts); err != nil {
		return written, err
	}

	goldTables := []struct {
		table      string
		partitions func() (map[string][]byte, error)
	}{
		{models.TableFactStockPrice, func() (map[string][]byte, error) { return w.dailyPartitions(gold.Daily) }},
		{models.TableFactStockPriceMonthly, func() (map[string][]byte, error) { return w.monthlyPartitions(gold.Monthly) }},
		{models.TableFactStockPriceYearly, func() (map[string][]byte, error) { return w.yearlyPartitions(gold.Yearly) }},
		{models.TableDimDate, func() (map[string][]byte, error) { return w.dimDatePartition(gold.DimDate) }},
		{models.TableDimSymbol, func() (map[string][]byte, error) { return w.dimSymbolPartition(gold.DimSymbol) }},
	}
	for _, t := range goldTables {
		partitions, err := t.partitions()
		if err != nil {
			return written, fmt.Errorf("table %s: %w", t.table, err)
		}
		if err := persist(models.TierGold, t.table, partitions); err != nil {
			return written, err
		}
	}

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"objects":  len(written),
		"run_date": runDate.Format("2006-01-02"),
	}).Info("run persisted")
	return written, nil
}

// writeTable uploads each partition as part-<uuid>.parquet and finishes
// with a run_date success marker.
func (w *S3Writer) writeTable(ctx context.Context, tier models.Tier, table string, partitions map[string][]byte, runDate time.Time) ([]string, error) {
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"tier":  string(tier),
		"table": table,
	})

	if len(partitions) == 0 {
		// An empty table still gets its success marker; a missing marker
		// means the run never reached this table.
		log.Warn("no partitions to write")
	}

	basePath := path.Join(w.config.Storage.S3.BasePath, string(tier), table)

	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make([]string, 0, len(names)+1)
	for _, name := range names {
		key := path.Join(basePath, name, fmt.Sprintf("part-%s.parquet", uuid.NewString()))
		if err := w.upload(ctx, key, partitions[name], "application/octet-stream"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	successKey := path.Join(basePath, fmt.Sprintf("run_date=%s", runDate.Format("2006-01-02")), "_SUCCESS")
	if err := w.upload(ctx, successKey, []byte{}, "text/plain"); err != nil {
		return keys, err
	}
	keys = append(keys, successKey)

	log.WithFields(logger.Fields{"objects": len(keys)}).Info("table written")
	return keys, nil
}

func (w *S3Writer) upload(ctx context.Context, key string, data []byte, contentType string) error {
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"s3_key":    key,
		"data_size": len(data),
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"vnflow-version": w.config.Vnflow.Version,
		},
	}

	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}

	logger.IncrementS3Write(int64(len(data)))
	log.Debug("uploaded to S3")
	return nil
}

func (w *S3Writer) bronzePartitions(raw []models.RawPriceRecord) (map[string][]byte, error) {
	grouped := make(map[string][]bronzeParquetRow)
	for _, rec := range raw {
		name := fmt.Sprintf("trading_date=%s", strings.TrimSpace(rec.TradingDate))
		grouped[name] = append(grouped[name], bronzeRow(rec))
	}
	return encodePartitions(grouped, w.config.Storage.S3.Compression)
}

func (w *S3Writer) silverPartitions(silver []models.SilverPriceRecord) (map[string][]byte, error) {
	grouped := make(map[string][]silverParquetRow)
	for _, rec := range silver {
		name := fmt.Sprintf("trading_date=%s", rec.TradingDate.Format("2006-01-02"))
		grouped[name] = append(grouped[name], silverRow(rec))
	}
	return encodePartitions(grouped, w.config.Storage.S3.Compression)
}

func (w *S3Writer) dailyPartitions(daily []models.FactStockPriceDaily) (map[string][]byte, error) {
	grouped := make(map[string][]dailyFactParquetRow)
	for _, f := range daily {
		name := fmt.Sprintf("date_key=%d", f.DateKey)
		grouped[name] = append(grouped[name], dailyFactParquetRow(f))
	}
	return encodePartitions(grouped, w.config.Storage.S3.Compression)
}

func (w *S3Writer) monthlyPartitions(monthly []models.FactStockPriceMonthly) (map[string][]byte, error) {
	grouped := make(map[string][]monthlyFactParquetRow)
	for _, f := range monthly {
		name := fmt.Sprintf("year_month=%d", f.YearMonth)
		grouped[name] = append(grouped[name], monthlyFactParquetRow(f))
	}
	return encodePartitions(grouped, w.config.Storage.S3.Compression)
}

func (w *S3Writer) yearlyPartitions(yearly []models.FactStockPriceYearly) (map[string][]byte, error) {
	grouped := make(map[string][]yearlyFactParquetRow)
	for _, f := range yearly {
		name := fmt.Sprintf("year=%d", f.Year)
		grouped[name] = append(grouped[name], yearlyFactParquetRow(f))
	}
	return encodePartitions(grouped, w.config.Storage.S3.Compression)
}

func (w *S3Writer) dimDatePartition(rows []models.DimDate) (map[string][]byte, error) {
	out := make([]dimDateParquetRow, len(rows))
	for i, d := range rows {
		out[i] = dimDateParquetRow{
			DateKey:     d.DateKey,
			TradingDate: d.TradingDate.Format("2006-01-02"),
			Year:        d.Year,
			Month:       d.Month,
			Day:         d.Day,
		}
	}
	return encodePartitions(map[string][]dimDateParquetRow{"": out}, w.config.Storage.S3.Compression)
}

func (w *S3Writer) dimSymbolPartition(rows []models.DimSymbol) (map[string][]byte, error) {
	out := make([]dimSymbolParquetRow, len(rows))
	for i, s := range rows {
		out[i] = dimSymbolParquetRow(s)
	}
	return encodePartitions(map[string][]dimSymbolParquetRow{"": out}, w.config.Storage.S3.Compression)
}

func encodePartitions[T any](grouped map[string][]T, compression string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(grouped))
	for name, rows := range grouped {
		if len(rows) == 0 {
			continue
		}
		data, err := createParquetFile(rows, compression)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}
