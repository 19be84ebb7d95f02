package writer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"vnflow/models"
)

// Parquet row shapes for the persisted tables. Dates are written as
// yyyymmdd integers alongside an ISO string for ad-hoc readers.

// bronzeParquetRow keeps every field as ingested, strings included; bronze
// is the replay source and must not reflect any coercion.
type bronzeParquetRow struct {
	Symbol      string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange    string `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradingDate string `parquet:"name=trading_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open        string `parquet:"name=open, type=BYTE_ARRAY, convertedtype=UTF8"`
	High        string `parquet:"name=high, type=BYTE_ARRAY, convertedtype=UTF8"`
	Low         string `parquet:"name=low, type=BYTE_ARRAY, convertedtype=UTF8"`
	Close       string `parquet:"name=close, type=BYTE_ARRAY, convertedtype=UTF8"`
	Volume      string `parquet:"name=volume, type=BYTE_ARRAY, convertedtype=UTF8"`
	IngestedAt  string `parquet:"name=ingested_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type silverParquetRow struct {
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange    string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradingDate string  `parquet:"name=trading_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open        float64 `parquet:"name=open, type=DOUBLE"`
	High        float64 `parquet:"name=high, type=DOUBLE"`
	Low         float64 `parquet:"name=low, type=DOUBLE"`
	Close       float64 `parquet:"name=close, type=DOUBLE"`
	Volume      int64   `parquet:"name=volume, type=INT64"`
	DateKey     int32   `parquet:"name=date_key, type=INT32"`
	SymbolKey   int64   `parquet:"name=symbol_key, type=INT64"`
}

type dailyFactParquetRow struct {
	DateKey   int32   `parquet:"name=date_key, type=INT32"`
	SymbolKey int64   `parquet:"name=symbol_key, type=INT64"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    int64   `parquet:"name=volume, type=INT64"`
}

type monthlyFactParquetRow struct {
	YearMonth int32   `parquet:"name=year_month, type=INT32"`
	SymbolKey int64   `parquet:"name=symbol_key, type=INT64"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    int64   `parquet:"name=volume, type=INT64"`
}

type yearlyFactParquetRow struct {
	Year      int32   `parquet:"name=year, type=INT32"`
	SymbolKey int64   `parquet:"name=symbol_key, type=INT64"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    int64   `parquet:"name=volume, type=INT64"`
}

type dimDateParquetRow struct {
	DateKey     int32  `parquet:"name=date_key, type=INT32"`
	TradingDate string `parquet:"name=trading_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Year        int32  `parquet:"name=year, type=INT32"`
	Month       int32  `parquet:"name=month, type=INT32"`
	Day         int32  `parquet:"name=day, type=INT32"`
}

type dimSymbolParquetRow struct {
	SymbolKey int64  `parquet:"name=symbol_key, type=INT64"`
	Symbol    string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange  string `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func bronzeRow(r models.RawPriceRecord) bronzeParquetRow {
	ingested := ""
	if !r.IngestedAt.IsZero() {
		ingested = r.IngestedAt.UTC().Format(time.RFC3339)
	}
	return bronzeParquetRow{
		Symbol:      r.Symbol,
		Exchange:    r.Exchange,
		TradingDate: r.TradingDate,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		IngestedAt:  ingested,
	}
}

func silverRow(r models.SilverPriceRecord) silverParquetRow {
	return silverParquetRow{
		Symbol:      r.Symbol,
		Exchange:    r.Exchange,
		TradingDate: r.TradingDate.Format("2006-01-02"),
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		DateKey:     r.DateKey,
		SymbolKey:   r.SymbolKey,
	}
}

// memoryFileWriter adapts a bytes.Buffer to the parquet source interface
// so files are assembled in memory before the S3 upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; seeking is never exercised.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// createParquetFile encodes rows into an in-memory parquet file.
func createParquetFile[T any](rows []T, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pqwriter.NewParquetWriter(fw, new(T), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}
