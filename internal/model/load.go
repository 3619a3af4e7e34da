package model

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/definition.schema.json
var definitionJSONSchema string

//go:embed schema/definition.cue
var definitionCUESchema string

// LoadError reports a definition file that cannot be decoded or does not
// match the definition schema.
type LoadError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func loadError(field, format string, args ...any) *LoadError {
	return &LoadError{
		Code:    ErrCodeInvalidDefinition,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// LoadFile reads a definition from a .yaml, .yml or .cue file, or from a
// directory holding one CUE package.
func LoadFile(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadCUEDir(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".cue":
		return LoadCUE(data, path)
	default:
		return nil, loadError("", "unsupported definition file %s", path)
	}
}

// LoadYAML decodes a YAML definition after validating it against the
// definition JSON schema.
func LoadYAML(data []byte) (*Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, loadError("", "parse yaml: %v", err)
	}
	if err := validateJSONSchema(raw); err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, loadError("", "decode yaml: %v", err)
	}
	return &def, nil
}

func validateJSONSchema(raw any) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionJSONSchema))
	if err != nil {
		return fmt.Errorf("compile definition schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return loadError("", "schema validation: %v", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return loadError(first.Field(), "%s", first.Description())
	}
	return nil
}

// LoadCUE compiles CUE source holding a top-level "model" struct.
func LoadCUE(src []byte, filename string) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return decodeCUE(ctx, v)
}

// LoadCUEDir loads the CUE package in dir.
func LoadCUEDir(dir string) (*Definition, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, loadError("", "no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return decodeCUE(ctx, v)
}

func decodeCUE(ctx *cue.Context, v cue.Value) (*Definition, error) {
	schema := ctx.CompileString(definitionCUESchema, cue.Filename("definition.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{}
	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return def, nil
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		md, err := decodeCUEModel(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		def.Models = append(def.Models, md)
	}
	return def, nil
}

func decodeCUEModel(name string, v cue.Value) (ModelDef, error) {
	md := ModelDef{Name: name}
	if err := v.Decode(&md); err != nil {
		return md, formatCUEError(err)
	}
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	iter, err := fieldsVal.Fields()
	if err != nil {
		return md, formatCUEError(err)
	}
	for iter.Next() {
		fv := iter.Value()
		fd := FieldDef{Name: iter.Label()}
		if err := fv.Decode(&fd); err != nil {
			return md, formatCUEError(err)
		}
		if dv := fv.LookupPath(cue.ParsePath("default")); dv.Exists() {
			if fd.Default, err = cueAny(dv); err != nil {
				return md, err
			}
		}
		if dv := fv.LookupPath(cue.ParsePath("domain")); dv.Exists() {
			raw, err := cueAny(dv)
			if err != nil {
				return md, err
			}
			fd.Domain, _ = raw.([]any)
		}
		md.Fields = append(md.Fields, fd)
	}
	return md, nil
}

// cueAny converts a concrete CUE value into the plain values domains and
// defaults use.
func cueAny(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.StringKind:
		return v.String()
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := []any{}
		for iter.Next() {
			e, err := cueAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}
	return nil, &LoadError{
		Code:    ErrCodeInvalidDefinition,
		Field:   v.Path().String(),
		Message: fmt.Sprintf("unsupported value kind %s", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Code:    ErrCodeInvalidDefinition,
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
