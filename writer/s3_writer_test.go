package writer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "vnflow/config"
	"vnflow/logger"
	"vnflow/models"
)

type fakeS3 struct {
	keys []string
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, *input.Key)
	return &s3.PutObjectOutput{}, nil
}

func fakeWriter() (*S3Writer, *fakeS3) {
	client := &fakeS3{}
	w := &S3Writer{
		config: &appconfig.Config{
			Storage: appconfig.StorageConfig{
				S3: appconfig.S3Config{Bucket: "test-bucket", Compression: "snappy"},
			},
		},
		s3Client: client,
		log:      logger.GetLogger(),
	}
	return w, client
}

func keysWithPrefix(keys []string, prefix string) []string {
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func TestPersistRunWritesBronze(t *testing.T) {
	w, client := fakeWriter()
	raw := []models.RawPriceRecord{
		{Symbol: "VNM", TradingDate: "2024-03-04", Open: "10", High: "11", Low: "9.5", Close: "10.5", Volume: "100", Exchange: "HOSE"},
		{Symbol: "FPT", TradingDate: "2024-03-04", Open: "20", High: "22", Low: "19", Close: "21", Volume: "200", Exchange: "HOSE"},
		{Symbol: "VNM", TradingDate: "2024-03-05", Open: "10.5", High: "11.5", Low: "x", Close: "11", Volume: "150", Exchange: "HOSE"},
	}
	runDate := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	if _, err := w.PersistRun(context.Background(), raw, nil, models.GoldTables{}, runDate); err != nil {
		t.Fatalf("PersistRun: %v", err)
	}

	// Every raw record lands under the bronze path, uncleaned rows included.
	parts := keysWithPrefix(client.keys, "bronze/bronze_stock_price/trading_date=")
	if len(parts) != 2 {
		t.Fatalf("expected 2 bronze partitions, got %v", parts)
	}
	for _, key := range parts {
		if !strings.HasSuffix(key, ".parquet") || !strings.Contains(key, "/part-") {
			t.Errorf("unexpected bronze object key %q", key)
		}
	}

	markers := keysWithPrefix(client.keys, "bronze/bronze_stock_price/run_date=2024-03-05")
	if len(markers) != 1 || !strings.HasSuffix(markers[0], "_SUCCESS") {
		t.Errorf("bronze success marker missing: %v", client.keys)
	}
}

func TestPersistRunMarksEmptyTables(t *testing.T) {
	w, client := fakeWriter()
	runDate := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	if _, err := w.PersistRun(context.Background(), nil, nil, models.GoldTables{}, runDate); err != nil {
		t.Fatalf("PersistRun: %v", err)
	}

	// An empty run still writes one success marker per table, nothing else.
	if len(client.keys) != 7 {
		t.Fatalf("expected 7 success markers, got %v", client.keys)
	}
	for _, key := range client.keys {
		if !strings.HasSuffix(key, "run_date=2024-03-05/_SUCCESS") {
			t.Errorf("unexpected object %q in empty run", key)
		}
	}
	for _, table := range []string{
		"bronze/bronze_stock_price",
		"silver/silver_stock_price",
		"gold/fact_stock_price",
		"gold/fact_stock_price_monthly",
		"gold/fact_stock_price_yearly",
		"gold/dim_date",
		"gold/dim_symbol",
	} {
		if len(keysWithPrefix(client.keys, table+"/")) != 1 {
			t.Errorf("missing success marker for %s: %v", table, client.keys)
		}
	}
}

func TestPersistRunPartitionLayout(t *testing.T) {
	w, client := fakeWriter()
	silver := []models.SilverPriceRecord{
		{Symbol: "VNM", Exchange: "HOSE", TradingDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), DateKey: 20240304, SymbolKey: 101},
	}
	gold := models.GoldTables{
		Daily:     []models.FactStockPriceDaily{{DateKey: 20240304, SymbolKey: 101}},
		Monthly:   []models.FactStockPriceMonthly{{YearMonth: 202403, SymbolKey: 101}},
		Yearly:    []models.FactStockPriceYearly{{Year: 2024, SymbolKey: 101}},
		DimDate:   []models.DimDate{{DateKey: 20240304, TradingDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Year: 2024, Month: 3, Day: 4}},
		DimSymbol: []models.DimSymbol{{SymbolKey: 101, Symbol: "VNM", Exchange: "HOSE"}},
	}
	runDate := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	written, err := w.PersistRun(context.Background(), nil, silver, gold, runDate)
	if err != nil {
		t.Fatalf("PersistRun: %v", err)
	}
	if len(written) != len(client.keys) {
		t.Errorf("returned keys %d, uploaded %d", len(written), len(client.keys))
	}

	for _, prefix := range []string{
		"silver/silver_stock_price/trading_date=2024-03-04/",
		"gold/fact_stock_price/date_key=20240304/",
		"gold/fact_stock_price_monthly/year_month=202403/",
		"gold/fact_stock_price_yearly/year=2024/",
	} {
		if len(keysWithPrefix(client.keys, prefix)) != 1 {
			t.Errorf("missing partition %q: %v", prefix, client.keys)
		}
	}
}
