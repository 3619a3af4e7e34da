package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/config"
	"github.com/roach88/recordkit/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML scenarios against a fresh in-memory database.

A directory runs every .yaml and .yml scenario in it. When a golden file
golden/<name>.golden exists next to a scenario, the trace must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  recordkit scenario ./scenarios/hierarchy.yaml
  recordkit scenario ./scenarios --filter "tag*"
  recordkit scenario ./scenarios --update
  recordkit scenario ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	p := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", path))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "error accessing scenario path", err)
	}

	files := []string{path}
	if info.IsDir() {
		if files, err = findScenarioFiles(path, opts.Filter); err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 {
		if p.isJSON() {
			return outputTestJSON(p, result)
		}
		fmt.Fprintln(p.Out, "No scenarios found.")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, file := range files {
		r := runScenario(ctx, file, opts, p)
		result.Scenarios = append(result.Scenarios, r)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if p.isJSON() {
		return outputTestJSON(p, result)
	}
	return outputTestText(p, result)
}

// findScenarioFiles finds the YAML scenario files directly in dir.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(e.Name(), ext))
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// runScenario executes a single scenario and returns the result.
func runScenario(ctx context.Context, file string, opts *ScenarioOptions, p *Printer) ScenarioResult {
	w := p.Out
	failed := func(name string, errs ...string) ScenarioResult {
		if !p.isJSON() {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return failed(filepath.Base(file), fmt.Sprintf("failed to load scenario: %v", err))
	}

	hopts := harness.Options{Funcs: opts.Funcs}
	if opts.Verbose {
		hopts.Logger = newLogger(opts.RootOptions, config.Default(), p.Diag)
	}
	result, err := harness.Run(ctx, scenario, hopts)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	goldenPath := goldenFilePath(file, scenario.Name)
	if opts.Update {
		if err := updateGoldenFile(goldenPath, scenario.Name, result); err != nil {
			return failed(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		if !p.isJSON() {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", scenario.Name)
		}
		return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
	}

	if _, err := os.Stat(goldenPath); err == nil {
		match, err := compareWithGolden(goldenPath, scenario.Name, result)
		if err != nil {
			return failed(scenario.Name, fmt.Sprintf("golden comparison failed: %v", err))
		}
		if !match {
			return failed(scenario.Name, "trace does not match golden file (run with --update to regenerate)")
		}
	}

	if !result.Pass {
		return failed(scenario.Name, result.Errors...)
	}
	if !p.isJSON() {
		fmt.Fprintf(w, "✓ %s\n", scenario.Name)
	}
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// updateGoldenFile writes the current trace as the golden file.
func updateGoldenFile(goldenPath, name string, result *harness.Result) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	data, err := harness.MarshalSnapshot(name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares the result trace against the golden file.
func compareWithGolden(goldenPath, name string, result *harness.Result) (bool, error) {
	golden, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	current, err := harness.MarshalSnapshot(name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}
	return bytes.Equal(bytes.TrimSpace(golden), bytes.TrimSpace(current)), nil
}

// outputTestJSON outputs the result as JSON. A failed run carries both the
// results and an error.
func outputTestJSON(p *Printer, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := Response{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &ResponseError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := p.respond(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the result as text.
func outputTestText(p *Printer, result TestResult) error {
	w := p.Out

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
