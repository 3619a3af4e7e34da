package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models is the path of the model definition file (.yaml, .cue) or CUE
	// package directory. Relative to the scenario file once loaded.
	Models string `yaml:"models"`

	// Lang is the language of the scenario environment.
	Lang string `yaml:"lang,omitempty"`

	// Context carries default_<field> and active_test values.
	Context map[string]interface{} `yaml:"context,omitempty"`

	// CheckParentStore lists models whose nested-set intervals are
	// verified after every mutating step.
	CheckParentStore []string `yaml:"check_parent_store,omitempty"`

	// Steps run in order inside one transaction.
	Steps []Step `yaml:"steps"`

	// TxID is an optional fixed transaction id.
	// If empty, defaults to "scenario-1".
	TxID string `yaml:"tx_id,omitempty"`
}

// Step is one operation. Exactly one of the operation fields is set, to
// the model the operation applies to.
type Step struct {
	Create string `yaml:"create,omitempty"`
	Write  string `yaml:"write,omitempty"`
	Unlink string `yaml:"unlink,omitempty"`
	Search string `yaml:"search,omitempty"`
	Read   string `yaml:"read,omitempty"`
	Copy   string `yaml:"copy,omitempty"`

	// ID is the source record of copy.
	ID interface{} `yaml:"id,omitempty"`

	// IDs are the records of write, unlink and read.
	IDs []interface{} `yaml:"ids,omitempty"`

	// Values are the create or write values, or the copy overrides.
	Values map[string]interface{} `yaml:"values,omitempty"`

	// Domain, Order, Limit, Offset parameterize search.
	Domain []interface{} `yaml:"domain,omitempty"`
	Order  string        `yaml:"order,omitempty"`
	Limit  int           `yaml:"limit,omitempty"`
	Offset int           `yaml:"offset,omitempty"`

	// Fields lists the fields of read; empty means every field.
	Fields []string `yaml:"fields,omitempty"`

	// As binds the id created by create or copy to an alias.
	As string `yaml:"as,omitempty"`

	// Expect checks the outcome of a successful step.
	Expect *Expect `yaml:"expect,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// IDs is the exact, ordered id list returned by the step.
	IDs []interface{} `yaml:"ids,omitempty"`

	// Count is the number of ids returned.
	Count *int `yaml:"count,omitempty"`

	// Values are the expected rows of a read, in order. Subset match: only
	// the listed keys are compared.
	Values []map[string]interface{} `yaml:"values,omitempty"`
}

// Operation names.
const (
	OpCreate = "create"
	OpWrite  = "write"
	OpUnlink = "unlink"
	OpSearch = "search"
	OpRead   = "read"
	OpCopy   = "copy"
)

// Op returns the operation of the step and the model it applies to.
func (s *Step) Op() (op, model string) {
	set := s.ops()
	for _, name := range []string{OpCreate, OpWrite, OpUnlink, OpSearch, OpRead, OpCopy} {
		if set[name] != "" {
			return name, set[name]
		}
	}
	return "", ""
}

func (s *Step) ops() map[string]string {
	return map[string]string{
		OpCreate: s.Create,
		OpWrite:  s.Write,
		OpUnlink: s.Unlink,
		OpSearch: s.Search,
		OpRead:   s.Read,
		OpCopy:   s.Copy,
	}
}

// LoadScenario reads and parses a scenario YAML file. The models path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the models path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "expect_errors:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Models != "" && !filepath.IsAbs(scenario.Models) && basePath != "" {
		scenario.Models = filepath.Join(basePath, scenario.Models)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if _, err := os.Stat(s.Models); os.IsNotExist(err) {
		return fmt.Errorf("models file not found: %s", s.Models)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], aliases); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks one step; aliases collects the aliases bound so far.
func validateStep(index int, step *Step, aliases map[string]bool) error {
	n := 0
	for _, model := range step.ops() {
		if model != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one of create, write, unlink, search, read, copy is required", index)
	}

	op, _ := step.Op()
	switch op {
	case OpWrite, OpUnlink, OpRead:
		if len(step.IDs) == 0 {
			return fmt.Errorf("steps[%d]: ids is required for %s", index, op)
		}
	case OpCopy:
		if step.ID == nil {
			return fmt.Errorf("steps[%d]: id is required for copy", index)
		}
	}
	if op == OpWrite && step.Values == nil {
		return fmt.Errorf("steps[%d]: values is required for write", index)
	}

	if step.As != "" {
		if op != OpCreate && op != OpCopy {
			return fmt.Errorf("steps[%d]: as is only valid on create and copy", index)
		}
		if aliases[step.As] {
			return fmt.Errorf("steps[%d]: alias %q is already bound", index, step.As)
		}
		aliases[step.As] = true
	}
	if step.Expect != nil && step.ExpectError != "" {
		return fmt.Errorf("steps[%d]: expect and expect_error are exclusive", index)
	}
	if step.Expect != nil && len(step.Expect.Values) > 0 && op != OpRead {
		return fmt.Errorf("steps[%d].expect: values is only valid on read", index)
	}
	return nil
}
