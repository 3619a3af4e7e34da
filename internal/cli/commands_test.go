package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "validate", testModels, "--format", "json")
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	require.Len(t, result.Models, 2)
	assert.Equal(t, "res.partner", result.Models[0].Name)
	assert.True(t, result.Models[0].ParentStore)
	assert.Empty(t, result.Stubbed)
}

func TestValidate_Text(t *testing.T) {
	out, err := execute(t, "validate", testModels)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 model(s) valid")
	assert.Contains(t, out, "res.tag")
}

func TestValidate_StubsUnlinkedFunctions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "computed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`models:
  - name: res.partner
    fields:
      - name: name
        type: char
      - name: display
        type: computed
        result_type: char
        compute: partner_display
`), 0o644))

	out, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)
	var result ValidationResult
	decodeData(t, out, &result)
	assert.Equal(t, []string{"partner_display"}, result.Stubbed)
}

func TestValidate_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		out, err := execute(t, "validate", "testdata/absent.yaml", "--format", "json")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		resp := decodeData(t, out, nil)
		assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("unknown relation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`models:
  - name: res.partner
    fields:
      - name: parent_id
        type: many2one
        relation: res.missing
`), 0o644))
		out, err := execute(t, "validate", path, "--format", "json")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		resp := decodeData(t, out, nil)
		assert.Equal(t, ErrCodeBuildFailed, resp.Error.Code)
	})
}

func TestInit_CreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	out, err := execute(t, "init", testModels, "--db", path, "--format", "json")
	require.NoError(t, err)
	var result InitResult
	decodeData(t, out, &result)
	assert.Equal(t, []string{"res.partner", "res.tag"}, result.Models)

	// The schema is usable by later commands.
	out, err = execute(t, "search", testModels, "res.partner", "[]", "--db", path, "--count")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestSearch(t *testing.T) {
	db, ids := seed(t, "Bob", "Ada", "Cyd")

	out, err := execute(t, "search", testModels, "res.partner", "[]", "--db", db, "--format", "json")
	require.NoError(t, err)
	var result SearchResult
	decodeData(t, out, &result)
	assert.Equal(t, []int64{ids[1], ids[0], ids[2]}, result.IDs)

	out, err = execute(t, "search", testModels, "res.partner", `[["age", ">=", 21]]`,
		"--db", db, "--order", "name desc", "--limit", "1", "--format", "json")
	require.NoError(t, err)
	result = SearchResult{}
	decodeData(t, out, &result)
	assert.Equal(t, []int64{ids[2]}, result.IDs)

	out, err = execute(t, "search", testModels, "res.partner", `[["name", "ilike", "b"]]`, "--db", db, "--count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestSearch_Errors(t *testing.T) {
	db, _ := seed(t, "Ada")

	out, err := execute(t, "search", testModels, "res.partner", `[["name"]]`, "--db", db, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, "DOMAIN_SYNTAX", decodeData(t, out, nil).Error.Code)

	// Leaves on unknown fields match everything.
	out, err = execute(t, "search", testModels, "res.partner", `[["nickname", "=", "x"]]`, "--db", db, "--count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = execute(t, "search", testModels, "res.nothing", `[]`, "--db", db, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "UNKNOWN_MODEL", decodeData(t, out, nil).Error.Code)

	_, err = execute(t, "search", testModels, "res.partner", `[]`, "--db", db, "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRead(t *testing.T) {
	db, ids := seed(t, "Ada", "Bob")

	out, err := execute(t, "read", testModels, "res.partner", "1,2", "--fields", "name,age", "--db", db, "--format", "json")
	require.NoError(t, err)
	var result ReadResult
	decodeData(t, out, &result)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Ada", result.Rows[0]["name"])
	assert.EqualValues(t, 20, result.Rows[0]["age"])
	assert.EqualValues(t, ids[1], result.Rows[1]["id"])

	out, err = execute(t, "read", testModels, "res.partner", "2", "--fields", "name", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "res.partner(2)\n  name: Bob\n", out)
}

func TestRead_Errors(t *testing.T) {
	db, _ := seed(t, "Ada")

	out, err := execute(t, "read", testModels, "res.partner", "1,9", "--db", db, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, "MISSING_RECORD", decodeData(t, out, nil).Error.Code)

	out, err = execute(t, "read", testModels, "res.partner", "1,x", "--db", db, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ErrCodeBadArgument, decodeData(t, out, nil).Error.Code)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 3, 1 ,2,")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	_, err = parseIDs("")
	assert.Error(t, err)
	_, err = parseIDs("0")
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "records.db")

	out, err := execute(t, "compile", testModels, "res.partner", `[["name", "=", "Ada"]]`, "--db", db, "--format", "json")
	require.NoError(t, err)
	var result CompilationResult
	decodeData(t, out, &result)
	assert.Equal(t, "res.partner", result.Model)
	assert.Equal(t, "sqlite3", result.Dialect)
	assert.Contains(t, result.From, "res_partner")
	assert.Contains(t, result.Where, "name")
	assert.Contains(t, result.Params, "Ada")

	out, err = execute(t, "compile", testModels, "res.partner", `[["name", "=", "Ada"]]`, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "FROM ")
	assert.Contains(t, out, "WHERE ")
}

func TestScenario_File(t *testing.T) {
	out, err := execute(t, "scenario", "testdata/scenarios/partners.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ partners")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestScenario_DirJSON(t *testing.T) {
	out, err := execute(t, "scenario", "testdata/scenarios", "--format", "json")
	require.NoError(t, err)
	var result TestResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Total)
}

func TestScenario_Golden(t *testing.T) {
	dir := t.TempDir()
	models, err := filepath.Abs(testModels)
	require.NoError(t, err)
	scenario := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte(`name: one
description: "Create one partner"
models: `+models+`
steps:
  - create: res.partner
    values: { name: Ada }
`), 0o644))

	out, err := execute(t, "scenario", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")
	golden := filepath.Join(dir, "golden", "one.golden")
	require.FileExists(t, golden)

	_, err = execute(t, "scenario", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name": "one", "trace": []}`), 0o644))
	out, err = execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestScenario_Failures(t *testing.T) {
	dir := t.TempDir()
	models, err := filepath.Abs(testModels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`name: bad
description: "Expects an error that does not happen"
models: `+models+`
steps:
  - create: res.partner
    values: { name: Ada }
    expect_error: VALIDATION
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, err := execute(t, "scenario", dir, "--format", "json")
	require.Error(t, err)
	var result TestResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 2, result.Failed)

	out, err = execute(t, "scenario", dir, "--filter", "bad")
	require.Error(t, err)
	assert.Contains(t, out, "expected error VALIDATION, got success")
	assert.Contains(t, out, "1 total")

	_, err = execute(t, "scenario", filepath.Join(dir, "absent"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
