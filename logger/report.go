package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type tableStat struct {
	rows  int64
	bytes int64
}

var (
	rawRead        int64
	silverAccepted int64
	warnsTotal     int64
	errorsTotal    int64
	s3Writes       int64
	s3BytesWritten int64
	rejected       sync.Map // map[string]*int64, keyed by reject reason
	tables         sync.Map // map[string]*tableStat, keyed by table name
	componentWarns sync.Map // map[string]*int64
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
	v, _ := componentWarns.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementRawRead counts raw records handed to the pipeline.
func IncrementRawRead(n int) {
	atomic.AddInt64(&rawRead, int64(n))
}

// IncrementSilverAccepted counts records accepted into the silver set.
func IncrementSilverAccepted(n int) {
	atomic.AddInt64(&silverAccepted, int64(n))
}

// IncrementRejected counts cleaner rejections per reason.
func IncrementRejected(reason string, n int) {
	v, _ := rejected.LoadOrStore(reason, new(int64))
	atomic.AddInt64(v.(*int64), int64(n))
}

// RecordTableRows counts rows materialized for a logical table.
func RecordTableRows(table string, rows int) {
	v, _ := tables.LoadOrStore(table, &tableStat{})
	ts := v.(*tableStat)
	atomic.AddInt64(&ts.rows, int64(rows))
}

// IncrementS3Write counts one persisted object of the given size.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	atomic.AddInt64(&s3BytesWritten, size)
}

// StartReport begins periodic logging of pipeline counters until the
// context is cancelled. Counters are also published to CloudWatch when
// the client has been initialised.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// LogFinalReport emits one report immediately, used at the end of a run.
func LogFinalReport(ctx context.Context, log *Log) {
	logReport(ctx, log)
}

func logReport(ctx context.Context, log *Log) {
	rejectedData := map[string]int64{}
	rejected.Range(func(k, v any) bool {
		rejectedData[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	tableData := map[string]int64{}
	tables.Range(func(k, v any) bool {
		tableData[k.(string)] = atomic.LoadInt64(&v.(*tableStat).rows)
		return true
	})

	fields := Fields{
		"raw_read":         atomic.LoadInt64(&rawRead),
		"silver_accepted":  atomic.LoadInt64(&silverAccepted),
		"rejected":         rejectedData,
		"table_rows":       tableData,
		"s3_writes":        atomic.LoadInt64(&s3Writes),
		"s3_bytes_written": atomic.LoadInt64(&s3BytesWritten),
		"warns":            atomic.LoadInt64(&warnsTotal),
		"errors":           atomic.LoadInt64(&errorsTotal),
		"goroutines":       runtime.NumGoroutine(),
	}
	log.WithComponent("report").WithFields(fields).Info("pipeline report")

	data := []cwtypes.MetricDatum{
		metricDatum("RawRead", atomic.LoadInt64(&rawRead)),
		metricDatum("SilverAccepted", atomic.LoadInt64(&silverAccepted)),
		metricDatum("S3Writes", atomic.LoadInt64(&s3Writes)),
		metricDatum("Warns", atomic.LoadInt64(&warnsTotal)),
		metricDatum("Errors", atomic.LoadInt64(&errorsTotal)),
	}
	for reason, count := range rejectedData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Rejected"),
			Dimensions: []cwtypes.Dimension{{Name: aws.String("reason"), Value: aws.String(reason)}},
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(count)),
		})
	}
	publishMetrics(ctx, data)
}

func metricDatum(name string, value int64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(float64(value)),
	}
}
