package model

import (
	"context"
	"time"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/store"
)

// Env is the view of the current transaction handed to user functions.
type Env interface {
	Registry() *Registry
	Tx() *store.Tx
	Lang() string
	Now() time.Time
	Search(ctx context.Context, model string, d domain.Domain) ([]int64, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error)
}

// ComputeFunc computes the values of one or more computed columns (names)
// for ids. Columns sharing a Multi group are computed in one call.
type ComputeFunc func(ctx context.Context, env Env, ids []int64, names []string) (map[int64]map[string]any, error)

// InverseFunc stores a value written to a computed column.
type InverseFunc func(ctx context.Context, env Env, id int64, name string, value any) error

// SearchFunc rewrites a leaf on a non-stored computed column into a domain
// the compiler can translate.
type SearchFunc func(ctx context.Context, env Env, model string, leaf domain.Leaf) (domain.Domain, error)

// MapperFunc maps ids of a trigger's source model to the ids of the model
// owning the stored computed column.
type MapperFunc func(ctx context.Context, env Env, ids []int64) ([]int64, error)

// DefaultFunc produces a default value for one column.
type DefaultFunc func(ctx context.Context, env Env) (any, error)

// DefaultsProvider produces model-level defaults for the requested fields.
type DefaultsProvider func(ctx context.Context, env Env, fields []string) (map[string]any, error)

// Funcs resolves function names used in declarative definitions.
type Funcs struct {
	Compute  map[string]ComputeFunc
	Inverse  map[string]InverseFunc
	Search   map[string]SearchFunc
	Mapper   map[string]MapperFunc
	Default  map[string]DefaultFunc
	Defaults map[string]DefaultsProvider
}

// Identity is the mapper used when a trigger declares none.
func Identity(_ context.Context, _ Env, ids []int64) ([]int64, error) {
	return ids, nil
}
