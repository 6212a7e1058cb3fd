package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/infrastructure/calendar"
)

// Loader handles loading scheduling data from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadItems loads items from a CSV file
func (l *Loader) LoadItems(filename string) ([]*entities.Item, error) {
	records, err := readRecords(filename, "items", []string{"part_number", "description", "unit_of_measure", "post_processing"})
	if err != nil {
		return nil, err
	}

	var items []*entities.Item
	for i, record := range records {
		item, err := parseItem(record)
		if err != nil {
			return nil, fmt.Errorf("items CSV row %d: %w", i+2, err)
		}
		items = append(items, item)
	}

	return items, nil
}

// LoadCalendars loads online intervals grouped by resource. Each resource's
// intervals are validated and merged into one calendar.
func (l *Loader) LoadCalendars(filename string) (map[entities.ResourceID]*calendar.IntervalCalendar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar file %s: %w", filename, err)
	}
	defer file.Close()

	return l.ReadCalendars(file)
}

// ReadCalendars parses calendar CSV from r
func (l *Loader) ReadCalendars(r io.Reader) (map[entities.ResourceID]*calendar.IntervalCalendar, error) {
	records, err := parseRecords(r, "calendar", []string{"resource_id", "start", "end"})
	if err != nil {
		return nil, err
	}

	intervals := make(map[entities.ResourceID][]calendar.Interval)
	for i, record := range records {
		id := entities.ResourceID(strings.TrimSpace(record[0]))
		if id == "" {
			return nil, fmt.Errorf("calendar CSV row %d: resource_id cannot be empty", i+2)
		}
		start, err := parseTime(record[1])
		if err != nil {
			return nil, fmt.Errorf("calendar CSV row %d: invalid start: %w", i+2, err)
		}
		end, err := parseTime(record[2])
		if err != nil {
			return nil, fmt.Errorf("calendar CSV row %d: invalid end: %w", i+2, err)
		}
		intervals[id] = append(intervals[id], calendar.Interval{Start: start, End: end})
	}

	calendars := make(map[entities.ResourceID]*calendar.IntervalCalendar, len(intervals))
	for id, ivs := range intervals {
		cal, err := calendar.NewIntervalCalendar(ivs...)
		if err != nil {
			return nil, fmt.Errorf("calendar for resource %s: %w", id, err)
		}
		calendars[id] = cal
	}
	return calendars, nil
}

// CleanoutRow is one entry of a resource's item-to-item cleanout table
type CleanoutRow struct {
	Resource entities.ResourceID
	Key      entities.CleanoutKey
	Span     time.Duration
}

// LoadCleanouts loads item cleanout spans from a CSV file
func (l *Loader) LoadCleanouts(filename string) ([]CleanoutRow, error) {
	records, err := readRecords(filename, "cleanouts", []string{"resource_id", "from_item", "to_item", "span"})
	if err != nil {
		return nil, err
	}

	var rows []CleanoutRow
	for i, record := range records {
		span, err := time.ParseDuration(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("cleanouts CSV row %d: invalid span: %s", i+2, record[3])
		}
		if span <= 0 {
			return nil, fmt.Errorf("cleanouts CSV row %d: span must be positive, got %s", i+2, span)
		}
		rows = append(rows, CleanoutRow{
			Resource: entities.ResourceID(strings.TrimSpace(record[0])),
			Key: entities.CleanoutKey{
				From: entities.PartNumber(strings.TrimSpace(record[1])),
				To:   entities.PartNumber(strings.TrimSpace(record[2])),
			},
			Span: span,
		})
	}
	return rows, nil
}

// ApplyCleanouts adds rows to the cleanout tables of the named resources
func ApplyCleanouts(rows []CleanoutRow, lookup func(entities.ResourceID) (*entities.Resource, error)) error {
	for _, row := range rows {
		res, err := lookup(row.Resource)
		if err != nil {
			return fmt.Errorf("failed to apply cleanout %s->%s: %w", row.Key.From, row.Key.To, err)
		}
		res.ItemCleanouts[row.Key] = row.Span
	}
	return nil
}

// Helper functions for parsing CSV records

func readRecords(filename, kind string, expectedHeader []string) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file %s: %w", kind, filename, err)
	}
	defer file.Close()

	return parseRecords(file, kind, expectedHeader)
}

func parseRecords(r io.Reader, kind string, expectedHeader []string) ([][]string, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", kind, err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("%s CSV must have header and at least one data row", kind)
	}

	header := records[0]
	if !validateHeader(header, expectedHeader) {
		return nil, fmt.Errorf("%s CSV header mismatch. Expected: %v, Got: %v", kind, expectedHeader, header)
	}

	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return nil, fmt.Errorf("%s CSV row %d: expected %d columns, got %d", kind, i+2, len(expectedHeader), len(record))
		}
	}

	return records[1:], nil
}

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}

	for i, col := range expected {
		if strings.ToLower(strings.TrimSpace(actual[i])) != col {
			return false
		}
	}

	return true
}

func parseItem(record []string) (*entities.Item, error) {
	item, err := entities.NewItem(entities.PartNumber(strings.TrimSpace(record[0])), record[1], strings.TrimSpace(record[2]))
	if err != nil {
		return nil, err
	}

	if post := strings.TrimSpace(record[3]); post != "" {
		d, err := time.ParseDuration(post)
		if err != nil {
			return nil, fmt.Errorf("invalid post_processing: %s", record[3])
		}
		if d < 0 {
			return nil, fmt.Errorf("post_processing cannot be negative, got %s", d)
		}
		item.MaterialPostProcessingSpan = entities.SpanOf(d)
	}

	return item, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04", s)
}
