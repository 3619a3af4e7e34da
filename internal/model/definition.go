package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/recordkit/internal/domain"
)

// Definition is a declarative set of models loaded from YAML or CUE.
type Definition struct {
	Models []ModelDef `yaml:"models" json:"-"`
}

// ModelDef declares one model.
type ModelDef struct {
	Name        string          `yaml:"name" json:"-"`
	Table       string          `yaml:"table,omitempty" json:"table,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Order       string          `yaml:"order,omitempty" json:"order,omitempty"`
	RecName     string          `yaml:"rec_name,omitempty" json:"rec_name,omitempty"`
	Parent      string          `yaml:"parent,omitempty" json:"parent,omitempty"`
	ParentStore bool            `yaml:"parent_store,omitempty" json:"parent_store,omitempty"`
	ParentOrder string          `yaml:"parent_order,omitempty" json:"parent_order,omitempty"`
	LogAccess   *bool           `yaml:"log_access,omitempty" json:"log_access,omitempty"`
	Inherits    []DelegationDef `yaml:"inherits,omitempty" json:"inherits,omitempty"`
	Virtuals    []string        `yaml:"virtuals,omitempty" json:"virtuals,omitempty"`
	Defaults    string          `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Fields      []FieldDef      `yaml:"fields" json:"-"`
	Constraints []ConstraintDef `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// DelegationDef declares a delegated parent.
type DelegationDef struct {
	Model string `yaml:"model" json:"model"`
	Field string `yaml:"field" json:"field"`
}

// FieldDef declares one column.
type FieldDef struct {
	Name        string         `yaml:"name" json:"-"`
	Type        string         `yaml:"type" json:"type"`
	String      string         `yaml:"string,omitempty" json:"string,omitempty"`
	Required    bool           `yaml:"required,omitempty" json:"required,omitempty"`
	Readonly    bool           `yaml:"readonly,omitempty" json:"readonly,omitempty"`
	Translate   bool           `yaml:"translate,omitempty" json:"translate,omitempty"`
	Index       bool           `yaml:"index,omitempty" json:"index,omitempty"`
	NoCopy      bool           `yaml:"no_copy,omitempty" json:"no_copy,omitempty"`
	Size        int            `yaml:"size,omitempty" json:"size,omitempty"`
	Selection   []SelectionDef `yaml:"selection,omitempty" json:"selection,omitempty"`
	Default     any            `yaml:"default,omitempty" json:"-"`
	DefaultFunc string         `yaml:"default_func,omitempty" json:"default_func,omitempty"`
	Relation    string         `yaml:"relation,omitempty" json:"relation,omitempty"`
	InverseName string         `yaml:"inverse_name,omitempty" json:"inverse_name,omitempty"`
	RelTable    string         `yaml:"rel_table,omitempty" json:"rel_table,omitempty"`
	Column1     string         `yaml:"column1,omitempty" json:"column1,omitempty"`
	Column2     string         `yaml:"column2,omitempty" json:"column2,omitempty"`
	OnDelete    string         `yaml:"ondelete,omitempty" json:"ondelete,omitempty"`
	Domain      []any          `yaml:"domain,omitempty" json:"-"`
	ResultType  string         `yaml:"result_type,omitempty" json:"result_type,omitempty"`
	Compute     string         `yaml:"compute,omitempty" json:"compute,omitempty"`
	Inverse     string         `yaml:"inverse,omitempty" json:"inverse,omitempty"`
	Search      string         `yaml:"search,omitempty" json:"search,omitempty"`
	Store       bool           `yaml:"store,omitempty" json:"store,omitempty"`
	Multi       string         `yaml:"multi,omitempty" json:"multi,omitempty"`
	Priority    int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Horizon     string         `yaml:"horizon,omitempty" json:"horizon,omitempty"`
	Triggers    []TriggerDef   `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Related     string         `yaml:"related,omitempty" json:"related,omitempty"`
}

// SelectionDef is one selection option.
type SelectionDef struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// TriggerDef declares a stored-compute trigger.
type TriggerDef struct {
	Model    string   `yaml:"model" json:"model"`
	Fields   []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Mapper   string   `yaml:"mapper,omitempty" json:"mapper,omitempty"`
	Priority int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// ConstraintDef declares a CEL constraint.
type ConstraintDef struct {
	Name    string   `yaml:"name" json:"name"`
	Fields  []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
	Expr    string   `yaml:"expr" json:"expr"`
}

// Build registers every model of def and finalizes the registry. Function
// names are resolved in funcs.
func Build(def *Definition, funcs Funcs) (*Registry, error) {
	reg := NewRegistry()
	for i := range def.Models {
		m, err := def.Models[i].toModel(funcs)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (md *ModelDef) toModel(funcs Funcs) (*Model, error) {
	m := &Model{
		Name:        md.Name,
		Table:       md.Table,
		Description: md.Description,
		Order:       md.Order,
		RecName:     md.RecName,
		ParentName:  md.Parent,
		ParentStore: md.ParentStore,
		ParentOrder: md.ParentOrder,
		LogAccess:   md.LogAccess == nil || *md.LogAccess,
		Virtuals:    md.Virtuals,
	}
	for _, d := range md.Inherits {
		m.Inherits = append(m.Inherits, Delegation{Parent: d.Model, Field: d.Field})
	}
	if md.Defaults != "" {
		fn, ok := funcs.Defaults[md.Defaults]
		if !ok {
			return nil, definitionError(md.Name, "", "unknown defaults provider %q", md.Defaults)
		}
		m.Defaults = fn
	}
	for i := range md.Fields {
		c, err := md.Fields[i].toColumn(md.Name, funcs)
		if err != nil {
			return nil, err
		}
		m.Fields = append(m.Fields, c)
	}
	for _, cd := range md.Constraints {
		m.Constraints = append(m.Constraints, &Constraint{
			Name:    cd.Name,
			Fields:  cd.Fields,
			Message: cd.Message,
			Expr:    cd.Expr,
		})
	}
	return m, nil
}

func (fd *FieldDef) toColumn(model string, funcs Funcs) (*Column, error) {
	c := &Column{
		Name:        fd.Name,
		Kind:        Kind(fd.Type),
		Label:       fd.String,
		Required:    fd.Required,
		Readonly:    fd.Readonly,
		Translate:   fd.Translate,
		Index:       fd.Index,
		NoCopy:      fd.NoCopy,
		Size:        fd.Size,
		Default:     domain.NormalizeValue(fd.Default),
		Relation:    fd.Relation,
		InverseName: fd.InverseName,
		RelTable:    fd.RelTable,
		Column1:     fd.Column1,
		Column2:     fd.Column2,
		OnDelete:    OnDelete(fd.OnDelete),
		Type:        Kind(fd.ResultType),
		Store:       fd.Store,
		Multi:       fd.Multi,
		Priority:    fd.Priority,
	}
	for _, s := range fd.Selection {
		label := s.Label
		if label == "" {
			label = s.Value
		}
		c.Selection = append(c.Selection, SelectionOption{Value: s.Value, Label: label})
	}
	if len(fd.Domain) > 0 {
		d, err := domain.FromAny(fd.Domain)
		if err != nil {
			return nil, definitionError(model, fd.Name, "domain: %v", err)
		}
		c.Domain = d
	}
	if fd.Horizon != "" {
		h, err := time.ParseDuration(fd.Horizon)
		if err != nil {
			return nil, definitionError(model, fd.Name, "horizon: %v", err)
		}
		c.Horizon = h
	}
	if fd.Related != "" {
		c.Related = strings.Split(fd.Related, ".")
	}

	var err error
	if c.DefaultFunc, err = lookup(funcs.Default, fd.DefaultFunc, model, fd.Name, "default function"); err != nil {
		return nil, err
	}
	if c.Compute, err = lookup(funcs.Compute, fd.Compute, model, fd.Name, "compute function"); err != nil {
		return nil, err
	}
	if c.Inverse, err = lookup(funcs.Inverse, fd.Inverse, model, fd.Name, "inverse function"); err != nil {
		return nil, err
	}
	if c.Search, err = lookup(funcs.Search, fd.Search, model, fd.Name, "search function"); err != nil {
		return nil, err
	}
	for _, td := range fd.Triggers {
		t := Trigger{Model: td.Model, Fields: td.Fields, Priority: td.Priority}
		if t.Mapper, err = lookup(funcs.Mapper, td.Mapper, model, fd.Name, "mapper"); err != nil {
			return nil, err
		}
		c.Triggers = append(c.Triggers, t)
	}
	return c, nil
}

// lookup resolves a named function; an empty name yields the zero value.
func lookup[F any](table map[string]F, name, model, field, what string) (F, error) {
	var zero F
	if name == "" {
		return zero, nil
	}
	fn, ok := table[name]
	if !ok {
		return zero, definitionError(model, field, "unknown %s %q", what, name)
	}
	return fn, nil
}

// String returns a short summary of the definition.
func (d *Definition) String() string {
	return fmt.Sprintf("Definition{models: %d}", len(d.Models))
}
