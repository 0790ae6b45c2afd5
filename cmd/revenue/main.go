// revenue - batch CLI for the revenue & KPI engine
//
// Usage:
//   revenue run --encounters encounters.csv --rates rates.json [options]
//   revenue validate --encounters encounters.csv
//   revenue check-rates --rates rates.json
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/warp/revenue-engine/api"
	"github.com/warp/revenue-engine/engine"
	"github.com/warp/revenue-engine/ingest"
	"github.com/warp/revenue-engine/ratecfg"
)

func main() {
	app := &cli.App{
		Name:  "revenue",
		Usage: "Convert encounter-level service records into monthly productivity and financial KPIs",
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			checkRatesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// RUN COMMAND
// =============================================================================

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the full pipeline: CSV encounters + rate config -> monthly KPI table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "encounters",
				Aliases:  []string{"e"},
				Usage:    "Path to the encounter CSV file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "rates",
				Aliases:  []string{"r"},
				Usage:    "Path to the rate config JSON",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "baseline",
				Value: "160",
				Usage: "Monthly capacity baseline in hours (utilization denominator)",
			},
			&cli.StringFlag{
				Name:  "goal",
				Usage: "Monthly client-hours goal for the goal-attainment ratio",
			},
			&cli.BoolFlag{
				Name:  "dense",
				Usage: "Zero-fill months with no activity for continuous timelines",
			},
			&cli.StringFlag{
				Name:  "max-failure-rate",
				Usage: "Abort when this fraction of rows fails pricing (e.g. 0.1)",
			},
			&cli.StringSliceFlag{
				Name:  "comp",
				Usage: "Monthly compensation for ROI, as YYYY-MM=amount (repeatable)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format (table, json)",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	records, ingestReport, err := ingest.ReadEncountersFile(c.String("encounters"))
	if err != nil {
		return err
	}
	table, err := loadRateTable(c.String("rates"))
	if err != nil {
		return err
	}

	opts, err := buildRunOptions(c)
	if err != nil {
		return err
	}

	result, err := engine.New(table).Run(records, opts)
	if err != nil {
		return err
	}

	if c.String("format") == "json" {
		// Same wire shape as POST /api/kpis/run, with failure messages
		// rendered as strings.
		return printJSON(api.RunToResponse(result))
	}
	printIngestReport(ingestReport)
	printRunReport(result)
	printKPITable(result.KPIs)
	return nil
}

func buildRunOptions(c *cli.Context) (engine.RunOptions, error) {
	var opts engine.RunOptions

	baseline, err := decimal.NewFromString(c.String("baseline"))
	if err != nil {
		return opts, fmt.Errorf("invalid --baseline: %w", err)
	}
	opts.BaselineHours = baseline
	opts.DenseMonths = c.Bool("dense")

	if raw := c.String("goal"); raw != "" {
		goal, err := decimal.NewFromString(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid --goal: %w", err)
		}
		opts.GoalHours = &goal
	}

	if raw := c.String("max-failure-rate"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid --max-failure-rate: %w", err)
		}
		opts.MaxFailureRate = &rate
	}

	for _, pair := range c.StringSlice("comp") {
		monthStr, amountStr, found := strings.Cut(pair, "=")
		if !found {
			return opts, fmt.Errorf("invalid --comp %q, want YYYY-MM=amount", pair)
		}
		month, err := engine.ParseMonth(monthStr)
		if err != nil {
			return opts, err
		}
		amount, err := engine.NewMoney(amountStr)
		if err != nil {
			return opts, fmt.Errorf("invalid --comp amount %q: %w", amountStr, err)
		}
		if opts.CompensationByMonth == nil {
			opts.CompensationByMonth = make(map[engine.Month]engine.Money)
		}
		opts.CompensationByMonth[month] = amount
	}
	return opts, nil
}

// =============================================================================
// VALIDATE COMMAND
// =============================================================================

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Parse and validate an encounter CSV, printing the validation report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "encounters",
				Aliases:  []string{"e"},
				Usage:    "Path to the encounter CSV file",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			records, ingestReport, err := ingest.ReadEncountersFile(c.String("encounters"))
			if err != nil {
				return err
			}
			_, report := engine.Validate(records)

			printIngestReport(ingestReport)
			fmt.Printf("Validation: %d seen, %d kept, %d dropped\n",
				report.RowsSeen, report.RowsKept, report.RowsDropped)

			reasons := make([]string, 0, len(report.ByReason))
			for reason := range report.ByReason {
				reasons = append(reasons, string(reason))
			}
			sort.Strings(reasons)
			for _, reason := range reasons {
				fmt.Printf("  %-18s %d\n", reason, report.ByReason[engine.DropReason(reason)])
			}
			return nil
		},
	}
}

// =============================================================================
// CHECK-RATES COMMAND
// =============================================================================

func checkRatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-rates",
		Usage: "Load a rate config and verify it builds a valid, non-overlapping table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "rates",
				Aliases:  []string{"r"},
				Usage:    "Path to the rate config JSON",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			table, err := loadRateTable(c.String("rates"))
			if err != nil {
				return err
			}
			fmt.Printf("OK: %d rules, no overlaps\n", table.Len())
			return nil
		},
	}
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func loadRateTable(path string) (*engine.RateTable, error) {
	rules, err := ratecfg.Load(path)
	if err != nil {
		return nil, err
	}
	return engine.NewRateTable(rules)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIngestReport(report ingest.Report) {
	if len(report.Failures) == 0 {
		return
	}
	fmt.Printf("Ingestion: %d of %d rows failed to parse\n", len(report.Failures), report.RowsSeen)
	for _, f := range report.Failures {
		fmt.Printf("  %v\n", f)
	}
}

func printRunReport(result *engine.Result) {
	fmt.Printf("Run %s: %d rows seen, %d validated, %d priced\n",
		result.RunID, result.Validation.RowsSeen, result.Validation.RowsKept,
		result.Pricing.EncountersPriced)
	for _, f := range result.Pricing.Failures {
		fmt.Printf("  row %d (%s, %s): %v\n", f.Row, f.Code, f.Date.Format("2006-01-02"), f.Err)
	}
}

func printKPITable(kpis []engine.MonthlyKPI) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MONTH\tENCOUNTERS\tUNITS\tHOURS\tREVENUE\tREV/HOUR\tUTILIZATION\tGOAL\tROI")
	for _, k := range kpis {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.Period,
			k.EncounterCount,
			k.TotalUnits,
			k.ClientHours.Round(4),
			k.TotalRevenue,
			orDash(k.RevenuePerHour),
			orDash(k.UtilizationRate),
			orDash(k.GoalAttainment),
			orDash(k.ROI),
		)
	}
	w.Flush()
}

func orDash(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.Round(4).String()
}
