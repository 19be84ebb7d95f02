package cleaner

import (
	"hash/fnv"
	"time"
)

// DateKey encodes a trading date as yyyymmdd. The same date always yields
// the same key, so parallel workers and re-runs agree without coordination.
func DateKey(t time.Time) int32 {
	return int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// SymbolKey derives a stable surrogate key from the security's natural key.
// FNV-1a over "symbol|exchange", masked to stay positive so zero can act as
// the null sentinel in fact rows.
func SymbolKey(symbol, exchange string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(exchange))
	key := int64(h.Sum64() & 0x7fffffffffffffff)
	if key == 0 {
		key = 1
	}
	return key
}

// MonthOf extracts the yyyymm period from a yyyymmdd date key.
func MonthOf(dateKey int32) int32 {
	return dateKey / 100
}

// YearOf extracts the year from a yyyymmdd date key.
func YearOf(dateKey int32) int32 {
	return dateKey / 10000
}
