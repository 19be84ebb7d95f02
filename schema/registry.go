package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vnflow/models"
)

// ColumnType is the semantic type a column's values must carry.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeInt     ColumnType = "int"
	TypeFloat   ColumnType = "float"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// Column describes one column of a registered table schema.
type Column struct {
	Name       string     `yaml:"name"`
	Type       ColumnType `yaml:"type"`
	Nullable   bool       `yaml:"nullable"`
	Constraint string     `yaml:"constraint,omitempty"`

	predicate *predicate
}

// Table is the declared schema of one tier/table pair. Instances are
// read-only after registry load.
type Table struct {
	Tier       models.Tier `yaml:"tier"`
	Name       string      `yaml:"table"`
	Columns    []Column    `yaml:"columns"`
	PrimaryKey []string    `yaml:"primary_key,omitempty"`
}

// NotFoundError reports a lookup for a tier/table with no registered
// schema. It indicates misconfiguration and is fatal to the run.
type NotFoundError struct {
	Tier  models.Tier
	Table string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no schema registered for %s/%s", e.Tier, e.Table)
}

// Registry holds the declarative schemas loaded at pipeline start. It is
// never mutated after LoadDir returns.
type Registry struct {
	tables map[string]Table
}

func registryKey(tier models.Tier, table string) string {
	return string(tier) + "/" + table
}

// LoadDir reads every .yaml/.yml schema document under dir and returns an
// immutable registry of the declared tables.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema dir: %w", err)
	}

	reg := &Registry{tables: make(map[string]Table)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		table, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("schema file %s: %w", entry.Name(), err)
		}
		key := registryKey(table.Tier, table.Name)
		if _, dup := reg.tables[key]; dup {
			return nil, fmt.Errorf("duplicate schema for %s", key)
		}
		reg.tables[key] = table
	}

	if len(reg.tables) == 0 {
		return nil, fmt.Errorf("no schema documents found in %s", dir)
	}
	return reg, nil
}

func loadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read schema file: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if err := compileTable(&table); err != nil {
		return Table{}, err
	}
	return table, nil
}

func compileTable(table *Table) error {
	if table.Name == "" {
		return fmt.Errorf("schema is missing a table name")
	}
	switch table.Tier {
	case models.TierSilver, models.TierGold:
	default:
		return fmt.Errorf("table %s declares unknown tier %q", table.Name, table.Tier)
	}
	if len(table.Columns) == 0 {
		return fmt.Errorf("table %s declares no columns", table.Name)
	}

	names := make(map[string]struct{}, len(table.Columns))
	for i := range table.Columns {
		col := &table.Columns[i]
		if col.Name == "" {
			return fmt.Errorf("table %s has a column without a name", table.Name)
		}
		if _, dup := names[col.Name]; dup {
			return fmt.Errorf("table %s declares column %s twice", table.Name, col.Name)
		}
		names[col.Name] = struct{}{}

		switch col.Type {
		case TypeString, TypeInt, TypeFloat, TypeDate, TypeBoolean:
		default:
			return fmt.Errorf("column %s.%s has unknown type %q", table.Name, col.Name, col.Type)
		}

		if col.Constraint != "" {
			pred, err := compileConstraint(col.Constraint)
			if err != nil {
				return fmt.Errorf("column %s.%s: %w", table.Name, col.Name, err)
			}
			col.predicate = pred
		}
	}

	for _, pk := range table.PrimaryKey {
		if _, ok := names[pk]; !ok {
			return fmt.Errorf("table %s primary key references unknown column %s", table.Name, pk)
		}
	}
	return nil
}

// Lookup returns the schema for the given tier and table, or NotFoundError
// when none is registered.
func (r *Registry) Lookup(tier models.Tier, table string) (Table, error) {
	t, ok := r.tables[registryKey(tier, table)]
	if !ok {
		return Table{}, &NotFoundError{Tier: tier, Table: table}
	}
	return t, nil
}

// Tables returns all registered schemas ordered by tier and name.
func (r *Registry) Tables() []Table {
	out := make([]Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// predicate is a compiled column constraint. Constraints compare the
// column value against either a literal or another column of the same row,
// e.g. ">= 0" or ">= low".
type predicate struct {
	op      string
	literal float64
	column  string
	source  string
}

var constraintOps = []string{">=", "<=", ">", "<", "=="}

func compileConstraint(expr string) (*predicate, error) {
	trimmed := strings.TrimSpace(expr)
	for _, op := range constraintOps {
		if !strings.HasPrefix(trimmed, op) {
			continue
		}
		operand := strings.TrimSpace(strings.TrimPrefix(trimmed, op))
		if operand == "" {
			return nil, fmt.Errorf("constraint %q is missing an operand", expr)
		}
		if lit, err := strconv.ParseFloat(operand, 64); err == nil {
			return &predicate{op: op, literal: lit, source: trimmed}, nil
		}
		return &predicate{op: op, column: operand, source: trimmed}, nil
	}
	return nil, fmt.Errorf("unsupported constraint expression %q", expr)
}

func (p *predicate) holds(value float64, row models.Row) bool {
	target := p.literal
	if p.column != "" {
		other, ok := numericValue(row[p.column])
		if !ok {
			// A missing comparison column is the other column's
			// violation, not this one's.
			return true
		}
		target = other
	}
	switch p.op {
	case ">=":
		return value >= target
	case "<=":
		return value <= target
	case ">":
		return value > target
	case "<":
		return value < target
	case "==":
		return value == target
	}
	return false
}
