package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsinha/aps/pkg/domain/entities"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadItems(t *testing.T) {
	path := writeFile(t, "items.csv", `part_number,description,unit_of_measure,post_processing
PAINT,Blue paint,L,30m
RESIN,Resin,KG,
`)

	items, err := NewLoader().LoadItems(path)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, entities.PartNumber("PAINT"), items[0].PartNumber)
	assert.Equal(t, entities.SpanOf(30*time.Minute), items[0].MaterialPostProcessingSpan)
	assert.False(t, items[1].MaterialPostProcessingSpan.IsSet())
}

func TestLoader_LoadItems_Errors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError string
	}{
		{"header only", "part_number,description,unit_of_measure,post_processing\n", "items CSV must have header and at least one data row"},
		{"wrong header", "pn,description,unit_of_measure,post_processing\nPAINT,x,L,\n", "items CSV header mismatch"},
		{"bad span", "part_number,description,unit_of_measure,post_processing\nPAINT,x,L,soon\n", "items CSV row 2: invalid post_processing: soon"},
		{"missing uom", "part_number,description,unit_of_measure,post_processing\nPAINT,x,,\n", "items CSV row 2: unit of measure cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadItems(writeFile(t, "items.csv", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}

	_, err := NewLoader().LoadItems(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLoader_ReadCalendars(t *testing.T) {
	calendars, err := NewLoader().ReadCalendars(strings.NewReader(`resource_id,start,end
R1,2024-06-03T06:00:00Z,2024-06-03T10:00:00Z
R1,2024-06-03 09:00,2024-06-03 14:00
R2,2024-06-04T00:00:00Z,2024-06-04T08:00:00Z
`))
	require.NoError(t, err)
	require.Len(t, calendars, 2)

	// overlapping rows merge into one interval
	intervals := calendars["R1"].Intervals()
	require.Len(t, intervals, 1)
	assert.Equal(t, 8*time.Hour, intervals[0].Duration())
	assert.Len(t, calendars["R2"].Intervals(), 1)
}

func TestLoader_ReadCalendars_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"wrong header", "resource,start,end\nR1,2024-06-03T06:00:00Z,2024-06-03T10:00:00Z\n"},
		{"bad start", "resource_id,start,end\nR1,dawn,2024-06-03T10:00:00Z\n"},
		{"empty resource", "resource_id,start,end\n,2024-06-03T06:00:00Z,2024-06-03T10:00:00Z\n"},
		{"end before start", "resource_id,start,end\nR1,2024-06-03T10:00:00Z,2024-06-03T06:00:00Z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().ReadCalendars(strings.NewReader(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoader_LoadCleanouts(t *testing.T) {
	path := writeFile(t, "cleanouts.csv", `resource_id,from_item,to_item,span
CIP,RESIN,PAINT,2h
`)

	rows, err := NewLoader().LoadCleanouts(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	res, err := entities.NewResource("CIP", "CIP", nil)
	require.NoError(t, err)
	require.NoError(t, ApplyCleanouts(rows, func(id entities.ResourceID) (*entities.Resource, error) {
		return res, nil
	}))

	span, owed := res.CleanoutSpan("RESIN", "PAINT")
	assert.True(t, owed)
	assert.Equal(t, 2*time.Hour, span)

	_, err = NewLoader().LoadCleanouts(writeFile(t, "bad.csv", "resource_id,from_item,to_item,span\nCIP,A,B,0s\n"))
	assert.Error(t, err)
}
