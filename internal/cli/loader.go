package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
)

// LoadResult contains a loaded and built set of model definitions.
type LoadResult struct {
	Definition *model.Definition
	Registry   *model.Registry
	// Stubbed lists the function names no binary function was linked for.
	Stubbed []string
}

// LoadError represents an error that occurred while loading definitions.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Error code constants - unified across all CLI commands. Errors raised by
// the record-access core keep their own codes (ACCESS, VALIDATION, ...).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeLoadFailed  = "E004" // Definition file cannot be decoded
	ErrCodeBuildFailed = "E006" // Definitions do not form a valid registry
	ErrCodeBadArgument = "E008" // Malformed command argument
	ErrCodeDatabase    = "E009" // Database cannot be opened or initialized
	ErrCodeConfig      = "E010" // Configuration cannot be loaded
)

// LoadDefinitions loads the definitions at path (YAML file, CUE file or CUE
// package directory) and builds a registry from them.
func LoadDefinitions(path string, funcs model.Funcs) (*LoadResult, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %s", path), Err: err}
	}

	def, err := model.LoadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "loading definitions", Err: err}
	}

	linked, stubbed := withStubs(def, funcs)
	reg, err := model.Build(def, linked)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: "building models", Err: err}
	}
	return &LoadResult{Definition: def, Registry: reg, Stubbed: stubbed}, nil
}

// ErrNotLinked is returned by functions a definition names but the binary
// does not provide.
var ErrNotLinked = errors.New("function is not linked into this binary")

// withStubs copies funcs and binds every function name of def it lacks to a
// stub returning ErrNotLinked.
func withStubs(def *model.Definition, funcs model.Funcs) (model.Funcs, []string) {
	out := model.Funcs{
		Compute:  cloneMap(funcs.Compute),
		Inverse:  cloneMap(funcs.Inverse),
		Search:   cloneMap(funcs.Search),
		Mapper:   cloneMap(funcs.Mapper),
		Default:  cloneMap(funcs.Default),
		Defaults: cloneMap(funcs.Defaults),
	}
	var stubbed []string
	stub := func(name string, present bool) bool {
		if name == "" || present {
			return false
		}
		stubbed = append(stubbed, name)
		return true
	}
	notLinked := func(name string) error { return fmt.Errorf("%s: %w", name, ErrNotLinked) }

	for _, md := range def.Models {
		if _, ok := out.Defaults[md.Defaults]; stub(md.Defaults, ok) {
			name := md.Defaults
			out.Defaults[name] = func(context.Context, model.Env, []string) (map[string]any, error) {
				return nil, notLinked(name)
			}
		}
		for _, fd := range md.Fields {
			if _, ok := out.Compute[fd.Compute]; stub(fd.Compute, ok) {
				name := fd.Compute
				out.Compute[name] = func(context.Context, model.Env, []int64, []string) (map[int64]map[string]any, error) {
					return nil, notLinked(name)
				}
			}
			if _, ok := out.Inverse[fd.Inverse]; stub(fd.Inverse, ok) {
				name := fd.Inverse
				out.Inverse[name] = func(context.Context, model.Env, int64, string, any) error {
					return notLinked(name)
				}
			}
			if _, ok := out.Search[fd.Search]; stub(fd.Search, ok) {
				name := fd.Search
				out.Search[name] = func(context.Context, model.Env, string, domain.Leaf) (domain.Domain, error) {
					return nil, notLinked(name)
				}
			}
			if _, ok := out.Default[fd.DefaultFunc]; stub(fd.DefaultFunc, ok) {
				name := fd.DefaultFunc
				out.Default[name] = func(context.Context, model.Env) (any, error) {
					return nil, notLinked(name)
				}
			}
			for _, td := range fd.Triggers {
				if _, ok := out.Mapper[td.Mapper]; stub(td.Mapper, ok) {
					name := td.Mapper
					out.Mapper[name] = func(context.Context, model.Env, []int64) ([]int64, error) {
						return nil, notLinked(name)
					}
				}
			}
		}
	}
	return out, stubbed
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
