package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vsinha/aps/pkg/application/dto"
	"github.com/vsinha/aps/pkg/application/services/shared"
	"github.com/vsinha/aps/pkg/domain/entities"
)

const timeLayout = "2006-01-02 15:04"

// Config holds configuration for output generation
type Config struct {
	Format    string
	OutputDir string
	Verbose   bool
	RunTime   time.Duration
}

// Generate writes the run result to w, or to a file under OutputDir when set.
// allocations may be nil when no storage was planned.
func Generate(w io.Writer, result *dto.RunResult, allocations shared.AllocationMap, config Config) error {
	switch config.Format {
	case "text", "":
		return emit(w, config, "aps_results.txt", func(out io.Writer) error {
			return writeText(out, result, allocations, config)
		})
	case "json":
		return emit(w, config, "aps_results.json", func(out io.Writer) error {
			return writeJSON(out, result)
		})
	default:
		return fmt.Errorf("unsupported output format: %s", config.Format)
	}
}

func emit(w io.Writer, config Config, name string, write func(io.Writer) error) error {
	if config.OutputDir == "" {
		return write(w)
	}
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, name)
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer file.Close()

	if err := write(file); err != nil {
		return err
	}
	if config.Verbose {
		fmt.Fprintf(w, "💾 Results saved to: %s\n", filename)
	}
	return nil
}

func writeText(w io.Writer, result *dto.RunResult, allocations shared.AllocationMap, config Config) error {
	fmt.Fprintf(w, "📊 APS Results (clock %s)\n", result.Clock.Format(timeLayout))
	fmt.Fprintf(w, "==============================\n\n")
	fmt.Fprintf(w, "Operations: %d (%d late)\n", len(result.Schedules), len(result.LateOperations()))
	fmt.Fprintf(w, "Storage Attempts: %d (%d failed)\n", len(result.Storage), len(result.Failures()))
	fmt.Fprintf(w, "Resized Batches: %d\n", len(result.Adjustments))
	if config.RunTime > 0 {
		fmt.Fprintf(w, "Run Time: %v\n", config.RunTime)
	}
	fmt.Fprintln(w)

	if len(result.Schedules) > 0 {
		fmt.Fprintf(w, "📋 JIT Schedule:\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ORDER\tOPERATION\tPRODUCT\tRESOURCE\tNEED\tJIT START\tBUFFERED START\tSTATUS")
		for _, s := range result.Schedules {
			status := "ok"
			switch {
			case s.NotCalculable:
				status = "not calculable"
			case s.Late:
				status = "late"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Order, s.Operation, s.Product, resourceOrDash(s.Resource),
				formatTime(s.NeedDate), formatTime(s.EarliestJITStart), formatTime(s.EarliestBufferedJITStart),
				status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	if len(result.Storage) > 0 {
		fmt.Fprintf(w, "📦 Storage:\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OPERATION\tITEM\tQTY\tPATH\tATTEMPTS\tSTART\tAREAS")
		for _, o := range result.Storage {
			path := o.Path
			if !o.Success {
				path = "FAILED: " + o.Reason
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				o.Operation, o.Item, o.Qty, path, o.Attempts,
				o.StartedAt.Format(timeLayout), formatLots(o.Lots))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	if len(result.Adjustments) > 0 {
		fmt.Fprintf(w, "✂️  Batch Adjustments:\n")
		for _, a := range result.Adjustments {
			fmt.Fprintf(w, "  activity %d: %s -> %s at %s (%s)\n",
				a.Activity, a.OldQty, a.NewQty, a.Date.Format(timeLayout), a.Reason)
		}
		fmt.Fprintln(w)
	}

	if allocations != nil && allocations.Size() > 0 {
		fmt.Fprintf(w, "Storage Coverage: %.1f%%\n", allocations.GetCoverageRatio()*100)
		if config.Verbose {
			fmt.Fprintln(w, allocations.String())
		}
	}
	return nil
}

func writeJSON(w io.Writer, result *dto.RunResult) error {
	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func formatTime(t entities.OptionalTime) string {
	if !t.IsSet() {
		return "-"
	}
	return t.Value().Format(timeLayout)
}

func resourceOrDash(id entities.ResourceID) string {
	if id == "" {
		return "-"
	}
	return string(id)
}

func formatLots(lots []dto.StoredQty) string {
	if len(lots) == 0 {
		return "-"
	}
	parts := make([]string, len(lots))
	for i, l := range lots {
		parts[i] = fmt.Sprintf("%s=%s", l.Area, l.Qty)
	}
	return strings.Join(parts, ",")
}
