package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sjwhitworth/golearn/base"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// ValidationErrorKind classifies why a dataset was rejected
type ValidationErrorKind string

const (
	MissingColumns   ValidationErrorKind = "missing_columns"
	EmptyDataset     ValidationErrorKind = "empty_dataset"
	NonNumericColumn ValidationErrorKind = "non_numeric_column"
	ParseFailure     ValidationErrorKind = "parse_failure"
	RowViolations    ValidationErrorKind = "row_violations"
)

// ValidationError carries every problem found in a dataset
type ValidationError struct {
	Kind     ValidationErrorKind `json:"kind"`
	Messages []string            `json:"messages"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingColumns:
		return "Missing required columns: " + strings.Join(e.Messages, ", ")
	case EmptyDataset:
		return "Dataset is empty"
	case RowViolations:
		return "Data validation failed: " + strings.Join(e.Messages, ", ")
	default:
		return "Error parsing CSV data: " + strings.Join(e.Messages, ", ")
	}
}

// IsValidationError reports whether err is a dataset validation failure
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

type rangeRule struct {
	column  string
	min     float64
	max     float64
	message string
}

var noUpper = math.Inf(1)

// rules are checked in column order; each failing rule adds one message per row
var rules = []rangeRule{
	{models.ColumnVoltage, 2.5, 4.2, "Voltage out of range (2.5-4.2V)"},
	{models.ColumnCurrent, 0, 5, "Current out of range (0-5A)"},
	{models.ColumnTemperature, -20, 60, "Temperature out of range (-20°C to 60°C)"},
	{models.ColumnCycles, 0, noUpper, "Cycles cannot be negative"},
	{models.ColumnAgeDays, 0, noUpper, "Age cannot be negative"},
	{models.ColumnChargeTime, 0, noUpper, "Charge time cannot be negative"},
	{models.ColumnDischargeTime, 0, noUpper, "Discharge time cannot be negative"},
	{models.ColumnHealth, 0, 100, "Health must be between 0 and 100"},
}

// LoadFile reads and validates a dataset CSV file
func LoadFile(path string) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseAndValidate(string(data))
}

// ParseAndValidate parses CSV text with a header row into a dataset.
// Either every row is valid and returned, or nothing is.
func ParseAndValidate(csvText string) (*models.Dataset, error) {
	header, rows, err := scan(csvText)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	var missing []string
	for _, col := range models.RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: MissingColumns, Messages: missing}
	}
	if rows == 0 {
		return nil, &ValidationError{Kind: EmptyDataset, Messages: []string{"no data rows"}}
	}

	columns, err := readColumns(csvText, present[models.ColumnNotes])
	if err != nil {
		return nil, err
	}
	if got := len(columns.values[models.ColumnHealth]); got != rows {
		return nil, &ValidationError{
			Kind:     ParseFailure,
			Messages: []string{fmt.Sprintf("read %d rows, expected %d", got, rows)},
		}
	}

	var violations []string
	for i := 0; i < rows; i++ {
		for _, rule := range rules {
			v := columns.values[rule.column][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				violations = append(violations, fmt.Sprintf("Row %d: %s must be a finite number", i+1, rule.column))
				continue
			}
			if v < rule.min || v > rule.max {
				violations = append(violations, fmt.Sprintf("Row %d: %s", i+1, rule.message))
			}
		}
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Kind: RowViolations, Messages: violations}
	}

	ds := &models.Dataset{
		Features:     make([][]float64, rows),
		Targets:      columns.values[models.ColumnHealth],
		FeatureNames: append([]string(nil), models.FeatureColumns...),
		Notes:        columns.notes,
	}
	for i := range ds.Features {
		row := make([]float64, len(models.FeatureColumns))
		for j, col := range models.FeatureColumns {
			row[j] = columns.values[col][i]
		}
		ds.Features[i] = row
	}
	return ds, nil
}

// scan reads the header and counts data rows
func scan(csvText string) ([]string, int, error) {
	r := csv.NewReader(strings.NewReader(csvText))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, &ValidationError{Kind: EmptyDataset, Messages: []string{"no header row"}}
	}
	if err != nil {
		return nil, 0, &ValidationError{Kind: ParseFailure, Messages: []string{err.Error()}}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, &ValidationError{Kind: ParseFailure, Messages: []string{err.Error()}}
		}
		if len(record) != len(header) {
			return nil, 0, &ValidationError{
				Kind:     ParseFailure,
				Messages: []string{fmt.Sprintf("Row %d: expected %d fields, got %d", rows+1, len(header), len(record))},
			}
		}
		rows++
	}
	return header, rows, nil
}

type columnData struct {
	values map[string][]float64
	notes  []string
}

// readColumns loads the CSV into golearn instances and extracts the required columns
func readColumns(csvText string, withNotes bool) (cols *columnData, err error) {
	defer func() {
		if r := recover(); r != nil {
			cols = nil
			err = &ValidationError{Kind: ParseFailure, Messages: []string{fmt.Sprint(r)}}
		}
	}()

	inst, err := base.ParseCSVToInstancesFromReader(strings.NewReader(csvText), true)
	if err != nil {
		return nil, &ValidationError{Kind: ParseFailure, Messages: []string{err.Error()}}
	}
	_, rows := inst.Size()

	byName := make(map[string]base.Attribute)
	for _, attr := range inst.AllAttributes() {
		byName[strings.TrimSpace(attr.GetName())] = attr
	}

	cols = &columnData{values: make(map[string][]float64, len(models.RequiredColumns))}
	var nonNumeric []string
	for _, name := range models.RequiredColumns {
		attr := byName[name]
		if _, ok := attr.(*base.FloatAttribute); !ok {
			nonNumeric = append(nonNumeric, name)
			continue
		}
		spec, err := inst.GetAttribute(attr)
		if err != nil {
			return nil, &ValidationError{Kind: ParseFailure, Messages: []string{err.Error()}}
		}
		values := make([]float64, rows)
		for i := range values {
			values[i] = base.UnpackBytesToFloat(inst.Get(spec, i))
		}
		cols.values[name] = values
	}
	if len(nonNumeric) > 0 {
		msgs := make([]string, len(nonNumeric))
		for i, name := range nonNumeric {
			msgs[i] = fmt.Sprintf("Column %s must be numeric", name)
		}
		return nil, &ValidationError{Kind: NonNumericColumn, Messages: msgs}
	}

	if withNotes {
		attr := byName[models.ColumnNotes]
		spec, err := inst.GetAttribute(attr)
		if err != nil {
			return nil, &ValidationError{Kind: ParseFailure, Messages: []string{err.Error()}}
		}
		cols.notes = make([]string, rows)
		for i := range cols.notes {
			cols.notes[i] = attr.GetStringFromSysVal(inst.Get(spec, i))
		}
	}
	return cols, nil
}
