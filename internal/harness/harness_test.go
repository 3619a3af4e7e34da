package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelsPath(t *testing.T) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("testdata", "models.yaml"))
	require.NoError(t, err)
	return p
}

func runScenario(t *testing.T, s *Scenario) *Result {
	t.Helper()
	result, err := Run(context.Background(), s, Options{})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestRun_Hierarchy(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "hierarchy.yaml"))
	require.NoError(t, err)

	result := runScenario(t, s)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, len(s.Steps))
	assert.Equal(t, "RECURSION", result.Trace[4].Error)
	assert.Equal(t, map[string]int64{"root": 1, "kid": 2, "grandkid": 3}, result.Aliases)
}

func TestRun_Tags(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "tags.yaml"))
	require.NoError(t, err)

	result := runScenario(t, s)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "UNKNOWN_FIELD", result.Trace[6].Error)
	assert.Equal(t, "VALIDATION", result.Trace[7].Error)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	count := 5
	s := &Scenario{
		Name:        "failing",
		Description: "Expectations that do not hold",
		Models:      modelsPath(t),
		Steps: []Step{
			{Create: "res.partner", Values: map[string]interface{}{"name": "Ada"}, As: "ada"},
			{Search: "res.partner", Expect: &Expect{Count: &count}},
			{Search: "res.partner", Expect: &Expect{IDs: []interface{}{42}}},
			{Read: "res.partner", IDs: []interface{}{"$ada"}, Fields: []string{"name"},
				Expect: &Expect{Values: []map[string]interface{}{{"name": "Grace"}}}},
			{Create: "res.partner", Values: map[string]interface{}{"name": "Bob"}, ExpectError: "VALIDATION"},
			{Create: "res.partner", Values: map[string]interface{}{}},
		},
	}

	result := runScenario(t, s)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "expect.count: expected 5, got 1")
	assert.Contains(t, result.Errors[1], "expect.ids")
	assert.Contains(t, result.Errors[2], "row 0 name = Grace")
	assert.Contains(t, result.Errors[3], "expected error VALIDATION, got success")
	assert.Contains(t, result.Errors[4], "unexpected error")
	assert.Equal(t, "VALIDATION", result.Trace[5].Error)
}

func TestRun_ValuesMatchAcrossIntegerWidths(t *testing.T) {
	s := &Scenario{
		Name:        "widths",
		Description: "YAML ints compare with int64 values and id lists",
		Models:      modelsPath(t),
		Steps: []Step{
			{Create: "res.tag", Values: map[string]interface{}{"name": "A"}, As: "a"},
			{Create: "res.partner", Values: map[string]interface{}{
				"name": "Ada", "age": 36, "tag_ids": []interface{}{"$a"},
			}, As: "ada"},
			{Read: "res.partner", IDs: []interface{}{"$ada"}, Fields: []string{"age", "tag_ids"},
				Expect: &Expect{Values: []map[string]interface{}{{"age": 36, "tag_ids": []interface{}{1}}}}},
		},
	}

	result := runScenario(t, s)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace[2].Rows, 1)
	assert.Equal(t, int64(36), result.Trace[2].Rows[0]["age"])
}

func TestRun_UnknownAlias(t *testing.T) {
	s := &Scenario{
		Name:        "alias",
		Description: "Unbound alias",
		Models:      modelsPath(t),
		Steps: []Step{
			{Write: "res.partner", IDs: []interface{}{"$nobody"}, Values: map[string]interface{}{"name": "X"}},
		},
	}
	_, err := Run(context.Background(), s, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown alias "$nobody"`)
}

func TestRun_BadModels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`models:
  - name: res.partner
    fields:
      - name: parent_id
        type: many2one
        relation: res.missing
`), 0o644))

	s := &Scenario{
		Name:        "bad",
		Description: "Definitions referencing an unknown model",
		Models:      path,
		Steps:       []Step{{Search: "res.partner"}},
	}
	_, err := Run(context.Background(), s, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build models")
}

func TestRun_CheckParentStoreUnknownModel(t *testing.T) {
	s := &Scenario{
		Name:             "check",
		Description:      "Unknown model in check_parent_store",
		Models:           modelsPath(t),
		CheckParentStore: []string{"res.nothing"},
		Steps:            []Step{{Search: "res.partner"}},
	}
	_, err := Run(context.Background(), s, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check_parent_store")
}

func TestRunSuite(t *testing.T) {
	scenarios, err := LoadSuite(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.Len(t, scenarios, 3)
	assert.Equal(t, "golden_basic", scenarios[0].Name)

	suite, err := RunSuite(context.Background(), scenarios, Options{})
	require.NoError(t, err)
	assert.True(t, suite.Pass(), "failed: %v", suite.Failed)
	assert.Len(t, suite.Results, 3)
}

func TestLoadSuite_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	models := modelsPath(t)
	body := "name: same\ndescription: d\nmodels: " + models + "\nsteps:\n  - search: res.partner\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	_, err := LoadSuite(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "same" already used`)
}
