package orm

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/roach88/recordkit/internal/browse"
	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/expression"
	"github.com/roach88/recordkit/internal/hooks"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/translation"
)

// savepoint wraps every top-level mutation.
const savepoint = "recordkit_op"

// Context keys understood by the pipeline, besides "default_<field>".
const (
	// ContextActiveTest set to false disables the implicit active = true filter.
	ContextActiveTest = "active_test"
	// ContextDefaultPrefix prefixes caller-supplied create defaults.
	ContextDefaultPrefix = "default_"
)

// Options configures an Env. Zero values select permissive defaults.
type Options struct {
	// Principal is the user operations are checked for. Empty means
	// security.Superuser.
	Principal string
	// Lang selects translated values. Empty means translation.DefaultLang.
	Lang string
	// Context carries default_<field> overrides and active_test.
	Context map[string]any

	Access       security.AccessChecker
	Rules        security.RuleProvider
	Translations translation.Store
	Hooks        *hooks.Dispatcher

	// NameSearchers overrides the display-name search per model.
	NameSearchers map[string]NameSearcher

	Prefetch browse.Policy
	Stats    *browse.Stats

	Clock  func() time.Time
	IDs    TxIDGenerator
	Logger *slog.Logger
}

// state is shared by an Env and the envs derived from it.
type state struct {
	depth  int
	todo   *recomputeQueue
	events []hooks.Event
}

// Env is the handle every operation of one transaction goes through.
// Not safe for concurrent use.
type Env struct {
	reg      *model.Registry
	tx       *store.Tx
	opts     Options
	id       string
	logger   *slog.Logger
	cache    *browse.Cache
	compiler *expression.Compiler
	state    *state
}

// NewEnv binds reg to an open transaction.
func NewEnv(reg *model.Registry, tx *store.Tx, opts Options) *Env {
	if opts.Principal == "" {
		opts.Principal = security.Superuser
	}
	if opts.Lang == "" {
		opts.Lang = translation.DefaultLang
	}
	if opts.Access == nil {
		opts.Access = security.AllowAll{}
	}
	if opts.Rules == nil {
		opts.Rules = security.NoRules{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = UUIDv7Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Context = maps.Clone(opts.Context)

	e := &Env{
		reg:   reg,
		tx:    tx,
		opts:  opts,
		id:    opts.IDs.Generate(),
		state: &state{todo: newRecomputeQueue()},
	}
	e.logger = opts.Logger.With("tx", e.id)
	e.cache = browse.New(cacheLoader{e}, opts.Stats, opts.Prefetch)
	e.compiler = expression.NewCompiler(e)
	return e
}

// Begin opens a transaction on db and binds reg to it.
func Begin(ctx context.Context, db *store.DB, reg *model.Registry, opts Options) (*Env, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return NewEnv(reg, tx, opts), nil
}

// WithContext returns an Env sharing the transaction, cache and pending
// work of e, with values merged over its context.
func (e *Env) WithContext(values map[string]any) *Env {
	opts := e.opts
	opts.Context = maps.Clone(e.opts.Context)
	if opts.Context == nil {
		opts.Context = make(map[string]any, len(values))
	}
	maps.Copy(opts.Context, values)

	derived := *e
	derived.opts = opts
	derived.compiler = expression.NewCompiler(&derived)
	return &derived
}

// sudo returns an Env sharing the state of e that acts as the superuser.
// Stored computes and their mappers run through it.
func (e *Env) sudo() *Env {
	if e.opts.Principal == security.Superuser {
		return e
	}
	derived := *e
	derived.opts.Principal = security.Superuser
	derived.compiler = expression.NewCompiler(&derived)
	return &derived
}

// withoutDefaults drops the default_<field> keys, so they do not leak into
// records created through relational fields.
func (e *Env) withoutDefaults() *Env {
	found := false
	for k := range e.opts.Context {
		if strings.HasPrefix(k, ContextDefaultPrefix) {
			found = true
			break
		}
	}
	if !found {
		return e
	}
	derived := e.WithContext(nil)
	maps.DeleteFunc(derived.opts.Context, func(k string, _ any) bool {
		return strings.HasPrefix(k, ContextDefaultPrefix)
	})
	return derived
}

// Commit commits the transaction.
func (e *Env) Commit() error {
	if err := e.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.logger.Debug("transaction committed")
	return nil
}

// Rollback aborts the transaction.
func (e *Env) Rollback() error {
	e.cache.Clear()
	return e.tx.Rollback()
}

// ID returns the transaction id.
func (e *Env) ID() string { return e.id }

// Registry implements model.Env.
func (e *Env) Registry() *model.Registry { return e.reg }

// Tx implements model.Env.
func (e *Env) Tx() *store.Tx { return e.tx }

// Lang implements model.Env.
func (e *Env) Lang() string { return e.opts.Lang }

// Now implements model.Env.
func (e *Env) Now() time.Time { return e.opts.Clock() }

// Principal returns the user operations are checked for.
func (e *Env) Principal() string { return e.opts.Principal }

// Context returns a context value.
func (e *Env) Context(key string) (any, bool) {
	v, ok := e.opts.Context[key]
	return v, ok
}

// Translations implements expression.Resolver.
func (e *Env) Translations() translation.Store { return e.opts.Translations }

// Logger returns the transaction logger.
func (e *Env) Logger() *slog.Logger { return e.logger }

// Cache returns the browse cache of the transaction.
func (e *Env) Cache() *browse.Cache { return e.cache }

// Browse returns a handle on one record.
func (e *Env) Browse(modelName string, id int64) *browse.Record {
	return e.cache.Browse(modelName, id)
}

// BrowseList returns handles on records.
func (e *Env) BrowseList(modelName string, ids []int64) browse.RecordList {
	return e.cache.BrowseList(modelName, ids)
}

// Compile compiles d against modelName and returns the FROM and WHERE
// clauses with their parameters, for inspection.
func (e *Env) Compile(ctx context.Context, modelName string, d domain.Domain) (from, where string, params []any, err error) {
	q, err := e.compiler.Compile(ctx, modelName, d)
	if err != nil {
		return "", "", nil, err
	}
	from, where, params = q.SQL()
	return from, where, params, nil
}

// translating reports whether translatable values go through the
// translation store.
func (e *Env) translating() bool {
	return e.opts.Translations != nil && e.opts.Lang != translation.DefaultLang
}

func (e *Env) activeTest() bool {
	v, ok := e.opts.Context[ContextActiveTest]
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// now is the create or write date stamped on rows.
func (e *Env) now() string {
	return e.Now().UTC().Format(model.StampLayout)
}

func (e *Env) checkAccess(ctx context.Context, modelName string, op security.Operation) error {
	return e.opts.Access.Check(ctx, e.opts.Principal, modelName, op)
}

// atomic runs fn inside a savepoint, followed by the recomputation of the
// stored fields it invalidated. Nested calls join the outer savepoint.
// Hook events are handed to the dispatcher only once the outermost call
// succeeded.
func (e *Env) atomic(ctx context.Context, fn func() error) error {
	st := e.state
	if st.depth > 0 {
		st.depth++
		defer func() { st.depth-- }()
		return fn()
	}

	if _, err := e.tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	st.depth++
	err := fn()
	if err == nil {
		err = e.flushRecompute(ctx)
	}
	st.depth--

	if err != nil {
		st.todo.reset()
		st.events = nil
		e.cache.Clear()
		if _, rbErr := e.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		if _, relErr := e.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
			e.logger.Warn("release savepoint after rollback", "error", relErr)
		}
		return err
	}
	if _, err := e.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	events := st.events
	st.events = nil
	if e.opts.Hooks != nil {
		for _, ev := range events {
			e.opts.Hooks.Enqueue(ev)
		}
	}
	return nil
}

func (e *Env) notify(kind hooks.Kind, modelName string, ids []int64, fields []string) {
	e.state.events = append(e.state.events, hooks.Event{
		Kind:   kind,
		Model:  modelName,
		IDs:    append([]int64(nil), ids...),
		Fields: fields,
		Tx:     e.id,
	})
}

// cacheLoader feeds the browse cache. Missing rows are left out instead of
// failing the fetch.
type cacheLoader struct{ e *Env }

func (l cacheLoader) Registry() *model.Registry { return l.e.reg }

func (l cacheLoader) Read(ctx context.Context, modelName string, ids []int64, fields []string) ([]map[string]any, error) {
	m, err := l.e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if err := l.e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return nil, err
	}
	return l.e.read(ctx, m, uniqueIDs(ids), fields)
}

// Search finds subtype rows for virtual dispatch; an archived subtype still
// owns its row's virtual fields.
func (l cacheLoader) Search(ctx context.Context, modelName string, d domain.Domain) ([]int64, error) {
	return l.e.WithContext(map[string]any{ContextActiveTest: false}).Search(ctx, modelName, d)
}
