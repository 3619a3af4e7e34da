package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult is the outcome of every scenario of a directory.
type SuiteResult struct {
	Results map[string]*Result `json:"results"`
	Failed  []string           `json:"failed,omitempty"`
}

// Pass reports whether every scenario passed.
func (s *SuiteResult) Pass() bool {
	return len(s.Failed) == 0
}

// LoadSuite loads every .yaml and .yml scenario of dir, sorted by file name.
func LoadSuite(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", p, s.Name, prev)
		}
		names[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// RunSuite runs scenarios in order. A scenario that cannot run stops the
// suite; failed expectations are collected.
func RunSuite(ctx context.Context, scenarios []*Scenario, opts Options) (*SuiteResult, error) {
	out := &SuiteResult{Results: make(map[string]*Result, len(scenarios))}
	for _, s := range scenarios {
		result, err := Run(ctx, s, opts)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		out.Results[s.Name] = result
		if !result.Pass {
			out.Failed = append(out.Failed, s.Name)
		}
	}
	return out, nil
}
