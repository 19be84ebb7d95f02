package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"vnflow/models"
)

// maxSampleRows bounds the offending-row samples carried by a report.
const maxSampleRows = 10

// ViolationKind classifies a single schema violation.
type ViolationKind string

const (
	ViolationNull         ViolationKind = "null"
	ViolationType         ViolationKind = "type"
	ViolationConstraint   ViolationKind = "constraint"
	ViolationDuplicateKey ViolationKind = "duplicate_key"
)

// ColumnViolations aggregates violation counts for one column.
type ColumnViolations struct {
	Nulls       int `json:"nulls"`
	Types       int `json:"types"`
	Constraints int `json:"constraints"`
}

// RowSample identifies one offending row for diagnostics.
type RowSample struct {
	Index  int           `json:"index"`
	Column string        `json:"column,omitempty"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

// ValidationReport is the structured result of validating one batch
// against one registered schema. A report never mutates or holds the
// validated rows; it carries counts and a bounded sample.
type ValidationReport struct {
	Tier          models.Tier                  `json:"tier"`
	Table         string                       `json:"table"`
	TotalRows     int                          `json:"total_rows"`
	Columns       map[string]*ColumnViolations `json:"columns,omitempty"`
	DuplicateKeys int                          `json:"duplicate_keys"`
	Samples       []RowSample                  `json:"samples,omitempty"`
}

// Clean reports whether the batch passed with zero violations.
func (r *ValidationReport) Clean() bool {
	return r.ViolationCount() == 0
}

// ViolationCount returns the total number of violations across all checks.
func (r *ValidationReport) ViolationCount() int {
	total := r.DuplicateKeys
	for _, cv := range r.Columns {
		total += cv.Nulls + cv.Types + cv.Constraints
	}
	return total
}

// Summary renders a short diagnostic line, used in stage failure errors.
func (r *ValidationReport) Summary() string {
	if r.Clean() {
		return fmt.Sprintf("%s/%s: %d rows, clean", r.Tier, r.Table, r.TotalRows)
	}
	parts := make([]string, 0, len(r.Columns)+1)
	cols := make([]string, 0, len(r.Columns))
	for name := range r.Columns {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	for _, name := range cols {
		cv := r.Columns[name]
		parts = append(parts, fmt.Sprintf("%s(null=%d type=%d constraint=%d)", name, cv.Nulls, cv.Types, cv.Constraints))
	}
	if r.DuplicateKeys > 0 {
		parts = append(parts, fmt.Sprintf("duplicate_keys=%d", r.DuplicateKeys))
	}
	return fmt.Sprintf("%s/%s: %d rows, %d violations: %s",
		r.Tier, r.Table, r.TotalRows, r.ViolationCount(), strings.Join(parts, " "))
}

func (r *ValidationReport) column(name string) *ColumnViolations {
	cv, ok := r.Columns[name]
	if !ok {
		cv = &ColumnViolations{}
		r.Columns[name] = cv
	}
	return cv
}

func (r *ValidationReport) sample(s RowSample) {
	if len(r.Samples) < maxSampleRows {
		r.Samples = append(r.Samples, s)
	}
}

// Validate checks every row against the declared schema: non-nullable
// columns must be present and non-null, values must match their semantic
// type, declared constraints must hold, and primary key tuples must be
// unique. Coercion is the cleaner's job; a mistyped value here is a
// violation, not something to repair. The input is never mutated.
func Validate(rows []models.Row, table Table) *ValidationReport {
	report := &ValidationReport{
		Tier:      table.Tier,
		Table:     table.Name,
		TotalRows: len(rows),
		Columns:   make(map[string]*ColumnViolations),
	}

	for i, row := range rows {
		for ci := range table.Columns {
			col := &table.Columns[ci]
			validateCell(report, i, row, col)
		}
	}

	if len(table.PrimaryKey) > 0 {
		seen := make(map[string]struct{}, len(rows))
		for i, row := range rows {
			key := primaryKeyOf(row, table.PrimaryKey)
			if _, dup := seen[key]; dup {
				report.DuplicateKeys++
				report.sample(RowSample{
					Index:  i,
					Kind:   ViolationDuplicateKey,
					Detail: fmt.Sprintf("duplicate primary key %s", key),
				})
				continue
			}
			seen[key] = struct{}{}
		}
	}

	return report
}

func validateCell(report *ValidationReport, index int, row models.Row, col *Column) {
	value, present := row[col.Name]
	if !present || value == nil {
		if !col.Nullable {
			report.column(col.Name).Nulls++
			report.sample(RowSample{
				Index:  index,
				Column: col.Name,
				Kind:   ViolationNull,
				Detail: "non-nullable column is null",
			})
		}
		return
	}

	if !typeMatches(col.Type, value) {
		report.column(col.Name).Types++
		report.sample(RowSample{
			Index:  index,
			Column: col.Name,
			Kind:   ViolationType,
			Detail: fmt.Sprintf("expected %s, got %T", col.Type, value),
		})
		return
	}

	if col.predicate != nil {
		num, ok := numericValue(value)
		if !ok {
			return
		}
		if !col.predicate.holds(num, row) {
			report.column(col.Name).Constraints++
			report.sample(RowSample{
				Index:  index,
				Column: col.Name,
				Kind:   ViolationConstraint,
				Detail: fmt.Sprintf("value %v violates %q", value, col.predicate.source),
			})
		}
	}
}

func typeMatches(t ColumnType, value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInt:
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case TypeFloat:
		// Integer-valued data is acceptable where floats are expected.
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case TypeDate:
		ts, ok := value.(time.Time)
		if !ok {
			return false
		}
		// Date semantics require midnight-normalized values.
		return ts.Equal(ts.Truncate(24 * time.Hour))
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	}
	return false
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func primaryKeyOf(row models.Row, cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		value := row[col]
		if ts, ok := value.(time.Time); ok {
			parts[i] = ts.Format("2006-01-02")
			continue
		}
		parts[i] = fmt.Sprint(value)
	}
	return strings.Join(parts, "|")
}
