package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/vsinha/aps/pkg/application/services/jit"
	"github.com/vsinha/aps/pkg/application/services/orchestration"
	"github.com/vsinha/aps/pkg/application/services/storage"
	"github.com/vsinha/aps/pkg/domain/entities"
	"github.com/vsinha/aps/pkg/domain/services"
	"github.com/vsinha/aps/pkg/infrastructure/config"
	"github.com/vsinha/aps/pkg/infrastructure/events"
	"github.com/vsinha/aps/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/aps/pkg/infrastructure/repositories/yaml"
	"github.com/vsinha/aps/pkg/interfaces/cli/output"
)

// Mode selects how far a plan command goes
type Mode int

const (
	// ModeRun computes JIT dates and allocates storage
	ModeRun Mode = iota
	// ModeJIT only computes JIT dates
	ModeJIT
	// ModeValidate only loads and validates the scenario
	ModeValidate
)

// Config holds configuration for the plan command
type Config struct {
	Mode         Mode
	ConfigFile   string
	ScenarioFile string
	ItemsFile    string
	CalendarFile string
	CleanoutFile string
	// Clock overrides scheduling.clock, RFC 3339
	Clock     string
	Format    string
	OutputDir string
	Verbose   bool

	Out    io.Writer
	LogOut io.Writer
}

// PlanCommand loads a scenario and runs the planner over it
type PlanCommand struct {
	config Config
}

// NewPlanCommand creates a new plan command with the given configuration
func NewPlanCommand(cfg Config) *PlanCommand {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.LogOut == nil {
		cfg.LogOut = os.Stderr
	}
	return &PlanCommand{config: cfg}
}

// Execute runs the plan command
func (c *PlanCommand) Execute(ctx context.Context) error {
	if c.config.ScenarioFile == "" {
		return fmt.Errorf("validation error: a scenario file is required")
	}

	appConfig, err := config.LoadConfig(c.config.ConfigFile)
	if err != nil {
		return err
	}
	if c.config.Clock != "" {
		appConfig.Scheduling.Clock = c.config.Clock
	}
	logger := config.SetupLogger(appConfig, c.config.LogOut)

	scenario, err := c.loadScenario(logger)
	if err != nil {
		return err
	}
	if err := validateScenario(scenario); err != nil {
		return err
	}
	if c.config.Mode == ModeValidate {
		fmt.Fprintf(c.config.Out, "✅ Scenario %s is valid: %d orders, %d operations, %d warehouses\n",
			c.config.ScenarioFile,
			len(scenario.Production.GetAllOrders()),
			len(scenario.Production.GetAllOperations()),
			len(scenario.Warehouses.GetAllWarehouses()))
		return nil
	}

	clock, err := resolveClock(appConfig.Scheduling, scenario)
	if err != nil {
		return err
	}

	eventStore := events.NewInMemoryEventStore(logger)
	if c.config.Verbose {
		trace := events.NewLogHandler(logger, slog.LevelInfo)
		if err := eventStore.Subscribe(events.EventTypes, trace); err != nil {
			return fmt.Errorf("failed to subscribe event trace: %w", err)
		}
		defer func() { _ = eventStore.Unsubscribe(trace) }()
	}
	calculator := services.NewCapacityCalculator(nil)
	scheduler := jit.NewScheduler(scenario.Production, scenario.Resources, scenario.Warehouses, scenario.Items, calculator, eventStore, logger)

	var disposal entities.DisposalPolicy
	if appConfig.Storage.Disposal {
		disposal = services.ThresholdDisposalPolicy{}
	}
	generator := storage.NewPlanGenerator(scenario.Warehouses, scenario.Resources, disposal, logger)
	allocator := storage.NewAllocator(generator, calculator, eventStore, logger)
	orchestrator := orchestration.NewPlanningOrchestrator(
		scenario.Production,
		scenario.Resources,
		scenario.Warehouses,
		scheduler,
		allocator,
		calculator,
		eventStore,
		orchestration.Options{
			ShippingBuffer:    appConfig.Scheduling.ShippingBuffer,
			MaxStorageRetries: appConfig.Storage.MaxRetries,
		},
		logger,
	)

	outputConfig := output.Config{
		Format:    c.config.Format,
		OutputDir: c.config.OutputDir,
		Verbose:   c.config.Verbose,
	}

	startTime := time.Now()
	if c.config.Mode == ModeJIT {
		result, err := orchestrator.Schedule(ctx, clock)
		if err != nil {
			return fmt.Errorf("error calculating JIT dates: %w", err)
		}
		outputConfig.RunTime = time.Since(startTime)
		return output.Generate(c.config.Out, result, nil, outputConfig)
	}

	result, err := orchestrator.Run(ctx, clock)
	if err != nil {
		return fmt.Errorf("error running planner: %w", err)
	}
	outputConfig.RunTime = time.Since(startTime)
	published, err := eventStore.ReadAllEvents(0)
	if err != nil {
		return fmt.Errorf("error reading events: %w", err)
	}
	logger.Info("planning complete",
		"summary", result.GetSummary(),
		"events", len(published),
		"allocations", len(eventStore.EventsOfType(events.StorageAllocatedEvent)))

	if err := output.Generate(c.config.Out, result.RunResult, result.Allocations, outputConfig); err != nil {
		return fmt.Errorf("error generating output: %w", err)
	}
	return nil
}

// loadScenario reads the YAML scenario and layers the optional CSV files over it
func (c *PlanCommand) loadScenario(logger *slog.Logger) (*yaml.Scenario, error) {
	scenario, err := yaml.NewLoader().LoadScenario(c.config.ScenarioFile)
	if err != nil {
		return nil, fmt.Errorf("error loading scenario: %w", err)
	}

	csvLoader := csv.NewLoader()
	if c.config.ItemsFile != "" {
		items, err := csvLoader.LoadItems(c.config.ItemsFile)
		if err != nil {
			return nil, fmt.Errorf("error loading items: %w", err)
		}
		var added []*entities.Item
		for _, item := range items {
			if _, err := scenario.Items.GetItem(item.PartNumber); err == nil {
				logger.Debug("item already defined by scenario", "part_number", item.PartNumber)
				continue
			}
			added = append(added, item)
		}
		if err := scenario.Items.LoadItems(added); err != nil {
			return nil, fmt.Errorf("failed to load items into repository: %w", err)
		}
	}

	if c.config.CalendarFile != "" {
		calendars, err := csvLoader.LoadCalendars(c.config.CalendarFile)
		if err != nil {
			return nil, fmt.Errorf("error loading calendars: %w", err)
		}
		for id, cal := range calendars {
			res, err := scenario.Resources.GetResource(id)
			if err != nil {
				return nil, fmt.Errorf("calendar for unknown resource: %w", err)
			}
			res.Calendar = cal
		}
	}

	if c.config.CleanoutFile != "" {
		rows, err := csvLoader.LoadCleanouts(c.config.CleanoutFile)
		if err != nil {
			return nil, fmt.Errorf("error loading cleanouts: %w", err)
		}
		if err := csv.ApplyCleanouts(rows, scenario.Resources.GetResource); err != nil {
			return nil, err
		}
	}
	return scenario, nil
}

func validateScenario(scenario *yaml.Scenario) error {
	validator := services.NewRoutingValidator()
	var problems []string

	routing := validator.ValidateRouting(scenario.Production.GetAllOperations(), scenario.Production.GetAllAssociations())
	problems = append(problems, routing.Errors...)
	for _, w := range scenario.Warehouses.GetAllWarehouses() {
		problems = append(problems, validator.ValidateWarehouse(w).Errors...)
	}

	if len(problems) > 0 {
		return fmt.Errorf("scenario validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// resolveClock returns the configured clock, else the earliest order need
// date less the planning horizon
func resolveClock(cfg config.SchedulingConfig, scenario *yaml.Scenario) (time.Time, error) {
	clock, ok, err := cfg.ClockTime()
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return clock, nil
	}

	var earliest entities.OptionalTime
	for _, mo := range scenario.Production.GetAllOrders() {
		earliest = earliest.Min(mo.NeedDate)
	}
	if !earliest.IsSet() {
		return time.Time{}, fmt.Errorf("no clock configured and the scenario has no orders")
	}
	return earliest.Value().Add(-cfg.Horizon), nil
}
