package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidCSV marks any problem with the uploaded file. The whole upload
// is rejected when it occurs.
var ErrInvalidCSV = errors.New("invalid csv")

// Column names of the upload format.
const (
	ColumnTimestamp   = "timestamp"
	ColumnEquipmentID = "equipment_id"
	ColumnTemp        = "temp"
	ColumnVibration   = "vibration"
	ColumnPressure    = "pressure"
	ColumnFailureType = "failure_type"
)

var requiredColumns = []string{ColumnTimestamp, ColumnEquipmentID, ColumnTemp, ColumnVibration, ColumnPressure}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// timestampLayouts are tried in order; zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Row is one parsed CSV line. FailureType is nil when the file did not
// provide a label for the row.
type Row struct {
	Line        int
	Timestamp   time.Time
	EquipmentID string
	Temp        float64
	Vibration   float64
	Pressure    float64
	FailureType *int
}

// Parse decodes a UTF-8 CSV upload. Every row is validated before any is
// returned, so a malformed file yields no rows at all.
func Parse(data []byte) ([]Row, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrInvalidCSV)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	index, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		line, _ := reader.FieldPos(0)
		row, err := parseRecord(record, index, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func indexColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidCSV, name)
		}
		index[name] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int, line int) (Row, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[index[name]])
	}

	row := Row{Line: line}

	ts, err := ParseTimestamp(field(ColumnTimestamp))
	if err != nil {
		return Row{}, fmt.Errorf("%w: line %d: %v", ErrInvalidCSV, line, err)
	}
	row.Timestamp = ts

	row.EquipmentID = field(ColumnEquipmentID)
	if row.EquipmentID == "" {
		return Row{}, fmt.Errorf("%w: line %d: empty equipment_id", ErrInvalidCSV, line)
	}

	for _, target := range []struct {
		name string
		dst  *float64
	}{
		{ColumnTemp, &row.Temp},
		{ColumnVibration, &row.Vibration},
		{ColumnPressure, &row.Pressure},
	} {
		value, err := strconv.ParseFloat(field(target.name), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return Row{}, fmt.Errorf("%w: line %d: invalid %s %q", ErrInvalidCSV, line, target.name, field(target.name))
		}
		*target.dst = value
	}

	if _, ok := index[ColumnFailureType]; ok {
		raw := field(ColumnFailureType)
		if raw != "" {
			label, err := parseLabel(raw)
			if err != nil {
				return Row{}, fmt.Errorf("%w: line %d: %v", ErrInvalidCSV, line, err)
			}
			row.FailureType = &label
		}
	}
	return row, nil
}

// parseLabel accepts 0/1, including the float spelling "1.0" that
// spreadsheet exports produce.
func parseLabel(raw string) (int, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || (value != 0 && value != 1) {
		return 0, fmt.Errorf("invalid failure_type %q", raw)
	}
	return int(value), nil
}

// ParseTimestamp parses the timestamp formats accepted in uploads.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
