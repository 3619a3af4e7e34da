package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/orm"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/testutil"
	"github.com/roach88/recordkit/internal/translation"
)

// DefaultTxID is the transaction id of scenarios that set none.
const DefaultTxID = "scenario-1"

// Options configures a scenario run.
type Options struct {
	// Funcs resolves the compute, mapper and default functions named by
	// the model definitions.
	Funcs model.Funcs

	// Logger receives the ORM logs. Nil discards them.
	Logger *slog.Logger
}

// Harness executes the steps of one scenario.
type Harness struct {
	env     *orm.Env
	logger  *slog.Logger
	aliases map[string]int64
	check   []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database, inside one transaction
// that is rolled back at the end. The returned error reports a scenario
// that could not run at all; failed expectations are in the result.
//
// Execution flow:
// 1. Load and build the model definitions
// 2. Create a fresh in-memory database and its tables
// 3. Execute the steps, checking each against its expectations
// 4. Return result with pass/fail, trace, and errors
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	def, err := model.LoadFile(scenario.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	reg, err := model.Build(def, opts.Funcs)
	if err != nil {
		return nil, fmt.Errorf("failed to build models: %w", err)
	}

	db, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer db.Close()
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := schema.CreateTables(ctx, tx, reg); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	txID := scenario.TxID
	if txID == "" {
		txID = DefaultTxID
	}
	clock := testutil.NewDeterministicClock()

	h := &Harness{
		env: orm.NewEnv(reg, tx, orm.Options{
			Lang:         scenario.Lang,
			Context:      scenario.Context,
			Translations: translation.NewSQLStore(),
			Clock:        clock.Now,
			IDs:          orm.NewFixedGenerator(txID),
			Logger:       logger,
		}),
		logger:  logger,
		aliases: make(map[string]int64),
		check:   scenario.CheckParentStore,
	}
	for _, name := range h.check {
		if _, err := reg.Model(name); err != nil {
			return nil, fmt.Errorf("check_parent_store: %w", err)
		}
	}

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	for alias, id := range h.aliases {
		result.Aliases[alias] = id
	}
	return result, nil
}

// executeStep runs one step and records its outcome. Returned errors stop
// the scenario; failed expectations are added to result instead.
func (h *Harness) executeStep(ctx context.Context, index int, step *Step, result *Result) error {
	op, modelName := step.Op()
	ev := TraceEvent{Step: index, Op: op, Model: modelName}

	ids, rows, opErr, err := h.apply(ctx, op, modelName, step)
	if err != nil {
		return err
	}
	ev.IDs = ids
	ev.Rows = rows
	h.logger.Debug("step executed", "step", index, "op", op, "model", modelName, "error", opErr)

	if opErr != nil {
		ev.Error = orm.ErrorCode(opErr)
		if ev.Error == "" {
			ev.Error = "ERROR"
		}
		result.AddTrace(ev)
		switch {
		case step.ExpectError == "":
			result.AddError(fmt.Sprintf("steps[%d] %s %s: unexpected error: %v", index, op, modelName, opErr))
		case step.ExpectError != ev.Error:
			result.AddError(fmt.Sprintf("steps[%d] %s %s: expected error %s, got %s (%v)",
				index, op, modelName, step.ExpectError, ev.Error, opErr))
		}
		return nil
	}
	result.AddTrace(ev)

	if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: expected error %s, got success", index, op, modelName, step.ExpectError))
		return nil
	}
	if step.As != "" && len(ids) == 1 {
		h.aliases[step.As] = ids[0]
	}
	if step.Expect != nil {
		for _, msg := range h.checkExpect(step.Expect, ids, rows) {
			result.AddError(fmt.Sprintf("steps[%d] %s %s: %s", index, op, modelName, msg))
		}
	}

	if op == OpCreate || op == OpWrite || op == OpUnlink || op == OpCopy {
		for _, name := range h.check {
			if err := h.env.VerifyParentStore(ctx, name); err != nil {
				result.AddError(fmt.Sprintf("steps[%d] %s %s: nested set broken: %v", index, op, modelName, err))
			}
		}
	}
	return nil
}

// apply performs the operation. opErr is the error returned by the ORM;
// err reports a step that cannot be executed, such as an unknown alias.
func (h *Harness) apply(ctx context.Context, op, modelName string, step *Step) (ids []int64, rows []map[string]interface{}, opErr, err error) {
	switch op {
	case OpCreate:
		values, err := h.resolveMap(step.Values)
		if err != nil {
			return nil, nil, nil, err
		}
		id, opErr := h.env.Create(ctx, modelName, values)
		if opErr != nil {
			return nil, nil, opErr, nil
		}
		return []int64{id}, nil, nil, nil

	case OpCopy:
		src, err := h.resolveID(step.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		overrides, err := h.resolveMap(step.Values)
		if err != nil {
			return nil, nil, nil, err
		}
		id, opErr := h.env.Copy(ctx, modelName, src, overrides)
		if opErr != nil {
			return nil, nil, opErr, nil
		}
		return []int64{id}, nil, nil, nil

	case OpWrite:
		targets, err := h.resolveIDs(step.IDs)
		if err != nil {
			return nil, nil, nil, err
		}
		values, err := h.resolveMap(step.Values)
		if err != nil {
			return nil, nil, nil, err
		}
		return targets, nil, h.env.Write(ctx, modelName, targets, values), nil

	case OpUnlink:
		targets, err := h.resolveIDs(step.IDs)
		if err != nil {
			return nil, nil, nil, err
		}
		return targets, nil, h.env.Unlink(ctx, modelName, targets), nil

	case OpSearch:
		raw, err := h.resolve(step.Domain)
		if err != nil {
			return nil, nil, nil, err
		}
		list, _ := raw.([]interface{})
		d, opErr := domain.FromAny(list)
		if opErr == nil {
			opErr = domain.Validate(d, false)
		}
		if opErr != nil {
			return nil, nil, opErr, nil
		}
		found, opErr := h.env.SearchWith(ctx, modelName, orm.SearchParams{
			Domain: d, Order: step.Order, Limit: step.Limit, Offset: step.Offset,
		})
		return found, nil, opErr, nil

	case OpRead:
		targets, err := h.resolveIDs(step.IDs)
		if err != nil {
			return nil, nil, nil, err
		}
		read, opErr := h.env.Read(ctx, modelName, targets, nilIfEmpty(step.Fields))
		return targets, read, opErr, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown operation %q", op)
}

func nilIfEmpty(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// resolve replaces "$alias" strings anywhere in v by their ids.
func (h *Harness) resolve(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		if !strings.HasPrefix(x, "$") {
			return x, nil
		}
		id, ok := h.aliases[strings.TrimPrefix(x, "$")]
		if !ok {
			return nil, fmt.Errorf("unknown alias %q", x)
		}
		return id, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			r, err := h.resolve(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]interface{}:
		return h.resolveMap(x)
	}
	return v, nil
}

func (h *Harness) resolveMap(m map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		r, err := h.resolve(v)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

func (h *Harness) resolveID(v interface{}) (int64, error) {
	r, err := h.resolve(v)
	if err != nil {
		return 0, err
	}
	id, err := model.AsID(r)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (h *Harness) resolveIDs(list []interface{}) ([]int64, error) {
	out := make([]int64, 0, len(list))
	for _, v := range list {
		id, err := h.resolveID(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
