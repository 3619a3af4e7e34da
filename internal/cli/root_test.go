package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/orm"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
)

const testModels = "testdata/models.yaml"

// execute runs the root command and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData decodes the data payload of a JSON response into v.
func decodeData(t *testing.T, out string, v any) Response {
	t.Helper()
	var resp struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if v != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
	return resp.Response
}

// seed creates the schema in a fresh SQLite file and the given partners,
// returning the database path and the ids created.
func seed(t *testing.T, names ...string) (string, []int64) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	def, err := model.LoadFile(testModels)
	require.NoError(t, err)
	reg, err := model.Build(def, model.Funcs{})
	require.NoError(t, err)

	db, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: path})
	require.NoError(t, err)
	defer db.Close()
	env, err := orm.Begin(ctx, db, reg, orm.Options{})
	require.NoError(t, err)
	require.NoError(t, schema.CreateTables(ctx, env.Tx(), reg))

	var ids []int64
	for i, name := range names {
		id, err := env.Create(ctx, "res.partner", map[string]any{"name": name, "age": 20 + i})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, env.Commit())
	return path, ids
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "recordkit", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "init", "compile", "search", "read", "scenario"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestSearchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	searchCmd, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)

	for _, name := range []string{"db", "order", "limit", "offset", "count"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "0", searchCmd.Flags().Lookup("limit").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "validate", testModels, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
