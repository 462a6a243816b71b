// Package csvimport parses the roster and grade spreadsheets teachers upload.
// Both formats carry a header row which is skipped.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	MinGrade = 0
	MaxGrade = 100
)

// LineError pinpoints a malformed row.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

var (
	ErrEmpty          = errors.New("file has no data rows")
	ErrColumns        = errors.New("expected 2 columns")
	ErrMissingID      = errors.New("student id is required")
	ErrMissingName    = errors.New("student name is required")
	ErrInvalidGrade   = errors.New("grade must be an integer between 0 and 100")
	ErrDuplicateEntry = errors.New("duplicate student id")
)

// RosterRow is one (student_id, student_name) record.
type RosterRow struct {
	Line      int
	StudentID string
	Name      string
}

// GradeRow is one (student_id, grade) record.
type GradeRow struct {
	Line      int
	StudentID string
	Value     int
}

// ReadRoster parses a student roster.
func ReadRoster(r io.Reader) ([]RosterRow, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	rows := make([]RosterRow, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		id, name := rec.fields[0], rec.fields[1]
		switch {
		case id == "":
			return nil, &LineError{Line: rec.line, Err: ErrMissingID}
		case name == "":
			return nil, &LineError{Line: rec.line, Err: ErrMissingName}
		}
		if _, dup := seen[id]; dup {
			return nil, &LineError{Line: rec.line, Err: ErrDuplicateEntry}
		}
		seen[id] = struct{}{}
		rows = append(rows, RosterRow{Line: rec.line, StudentID: id, Name: name})
	}
	return rows, nil
}

// ReadGrades parses a grade sheet for a single composition.
func ReadGrades(r io.Reader) ([]GradeRow, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	rows := make([]GradeRow, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		id := rec.fields[0]
		if id == "" {
			return nil, &LineError{Line: rec.line, Err: ErrMissingID}
		}
		value, err := ParseGrade(rec.fields[1])
		if err != nil {
			return nil, &LineError{Line: rec.line, Err: err}
		}
		if _, dup := seen[id]; dup {
			return nil, &LineError{Line: rec.line, Err: ErrDuplicateEntry}
		}
		seen[id] = struct{}{}
		rows = append(rows, GradeRow{Line: rec.line, StudentID: id, Value: value})
	}
	return rows, nil
}

// ParseGrade accepts an integer in [MinGrade, MaxGrade].
func ParseGrade(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < MinGrade || value > MaxGrade {
		return 0, ErrInvalidGrade
	}
	return value, nil
}

type record struct {
	line   int
	fields []string
}

func readRecords(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []record
	line := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
		if line == 1 {
			continue
		}
		if isBlank(fields) {
			continue
		}
		if len(fields) != 2 {
			return nil, &LineError{Line: line, Err: ErrColumns}
		}
		records = append(records, record{line: line, fields: []string{strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])}})
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return records, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
