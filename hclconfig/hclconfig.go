// Package hclconfig declares bindings in HCL files.
//
//	constant "dsn" {
//	  value = "postgres://localhost/app"
//	}
//
//	constant "timeout" {
//	  type  = "duration"
//	  value = "5s"
//	}
//
//	bind "Database" {
//	  to    = "Postgres"
//	  scope = "singleton"
//	}
//
// Constants are bound as instances qualified by inject.Named(name). Type
// names used by bind blocks are resolved through a Types registry.
package hclconfig

import (
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/centraunit/inject"
)

// Types maps the type names used in bind blocks to keys.
type Types map[string]inject.Key

// Module is an inject.Module reading bindings from HCL files.
type Module struct {
	files  []string
	inline []inlineSource
	types  Types
	scopes map[string]inject.Scope
}

type inlineSource struct {
	filename string
	src      []byte
}

// NewModule returns a module binding the declarations of files.
func NewModule(types Types, files ...string) *Module {
	return &Module{files: files, types: types, scopes: make(map[string]inject.Scope)}
}

// WithScope makes scope usable as `scope = "<name>"`.
func (m *Module) WithScope(name string, scope inject.Scope) *Module {
	m.scopes[name] = scope
	return m
}

// WithSource adds an in-memory file.
func (m *Module) WithSource(filename string, src []byte) *Module {
	m.inline = append(m.inline, inlineSource{filename: filename, src: src})
	return m
}

type document struct {
	Constants []*constantBlock `hcl:"constant,block"`
	Binds     []*bindBlock     `hcl:"bind,block"`
}

type constantBlock struct {
	Name  string         `hcl:"name,label"`
	Type  string         `hcl:"type,optional"`
	Value hcl.Expression `hcl:"value"`
}

type bindBlock struct {
	Type    string   `hcl:"type,label"`
	Named   string   `hcl:"named,optional"`
	To      string   `hcl:"to,optional"`
	ToNamed string   `hcl:"to_named,optional"`
	Scope   string   `hcl:"scope,optional"`
	Remain  hcl.Body `hcl:",remain"`
}

// Configure implements inject.Module.
func (m *Module) Configure(b *inject.Binder) {
	parser := hclparse.NewParser()
	for _, path := range m.files {
		f, diags := parser.ParseHCLFile(path)
		report(b, diags)
		if f != nil && !diags.HasErrors() {
			m.configureFile(b, f)
		}
	}
	for _, in := range m.inline {
		f, diags := parser.ParseHCL(in.src, in.filename)
		report(b, diags)
		if f != nil && !diags.HasErrors() {
			m.configureFile(b, f)
		}
	}
}

func (m *Module) configureFile(b *inject.Binder, f *hcl.File) {
	var doc document
	diags := gohcl.DecodeBody(f.Body, nil, &doc)
	report(b, diags)
	if diags.HasErrors() {
		return
	}
	for _, c := range doc.Constants {
		m.bindConstant(b, c)
	}
	for _, bd := range doc.Binds {
		m.bindType(b, bd)
	}
}

var constantTypes = map[string]struct {
	goType  reflect.Type
	ctyType cty.Type
}{
	"string":       {reflect.TypeOf(""), cty.String},
	"int":          {reflect.TypeOf(0), cty.Number},
	"int64":        {reflect.TypeOf(int64(0)), cty.Number},
	"float64":      {reflect.TypeOf(float64(0)), cty.Number},
	"bool":         {reflect.TypeOf(false), cty.Bool},
	"duration":     {reflect.TypeOf(time.Duration(0)), cty.String},
	"list(string)": {reflect.TypeOf([]string(nil)), cty.List(cty.String)},
	"map(string)":  {reflect.TypeOf(map[string]string(nil)), cty.Map(cty.String)},
}

func (m *Module) bindConstant(b *inject.Binder, c *constantBlock) {
	rng := c.Value.Range()
	b = b.WithSource(rangeSource(rng, fmt.Sprintf("constant %q", c.Name)))

	val, diags := c.Value.Value(nil)
	report(b, diags)
	if diags.HasErrors() {
		return
	}
	typeName := c.Type
	if typeName == "" {
		typeName = impliedTypeName(val)
	}
	ct, ok := constantTypes[typeName]
	if !ok {
		b.Addf("constant %q has unsupported type %q", c.Name, typeName)
		return
	}
	v, err := decodeConstant(val, typeName, ct.goType, ct.ctyType)
	if err != nil {
		b.Addf("constant %q: %v", c.Name, err)
		return
	}
	b.Bind(inject.NewKey(ct.goType, inject.Named(c.Name))).ToInstance(v)
}

// impliedTypeName picks a Go type for an untyped constant.
func impliedTypeName(val cty.Value) string {
	ty := val.Type()
	switch {
	case ty == cty.String:
		return "string"
	case ty == cty.Bool:
		return "bool"
	case ty == cty.Number:
		if !val.IsNull() && val.IsKnown() && val.AsBigFloat().IsInt() {
			return "int"
		}
		return "float64"
	case ty.IsTupleType() || ty.IsListType():
		return "list(string)"
	case ty.IsObjectType() || ty.IsMapType():
		return "map(string)"
	}
	return ty.FriendlyName()
}

func decodeConstant(val cty.Value, typeName string, goType reflect.Type, want cty.Type) (any, error) {
	if val.IsNull() {
		return nil, fmt.Errorf("value must not be null")
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return nil, fmt.Errorf("value is not a %s: %w", typeName, err)
	}
	if typeName == "duration" {
		var s string
		if err := gocty.FromCtyValue(converted, &s); err != nil {
			return nil, err
		}
		return time.ParseDuration(s)
	}
	ptr := reflect.New(goType)
	if err := gocty.FromCtyValue(converted, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func (m *Module) bindType(b *inject.Binder, bd *bindBlock) {
	b = b.WithSource(rangeSource(bd.Remain.MissingItemRange(), fmt.Sprintf("bind %q", bd.Type)))
	if attrs, _ := bd.Remain.JustAttributes(); len(attrs) > 0 {
		for name := range attrs {
			b.Addf("bind %q has unknown attribute %q", bd.Type, name)
		}
		return
	}

	key, ok := m.lookup(b, bd.Type, bd.Named)
	if !ok {
		return
	}
	builder := b.Bind(key)
	if bd.To != "" {
		target, ok := m.lookup(b, bd.To, bd.ToNamed)
		if !ok {
			return
		}
		builder.To(target)
	}

	switch bd.Scope {
	case "", "none":
	case "singleton":
		builder.In(inject.Singleton)
	case "eager":
		builder.AsEagerSingleton()
	default:
		scope, ok := m.scopes[bd.Scope]
		if !ok {
			b.Addf("bind %q uses unknown scope %q", bd.Type, bd.Scope)
			return
		}
		builder.In(scope)
	}
}

func (m *Module) lookup(b *inject.Binder, name, named string) (inject.Key, bool) {
	key, ok := m.types[name]
	if !ok {
		b.Addf("unknown type %q; register it in hclconfig.Types", name)
		return inject.Key{}, false
	}
	if named != "" {
		key = inject.NewKey(key.Type(), inject.Named(named))
	}
	return key, true
}

func rangeSource(rng hcl.Range, what string) inject.Source {
	return inject.Source{File: rng.Filename, Line: rng.Start.Line, Func: what}
}

// report adds every error diagnostic to b, attributed to its subject.
func report(b *inject.Binder, diags hcl.Diagnostics) {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		src := inject.UnknownSource
		if d.Subject != nil {
			src = rangeSource(*d.Subject, "")
		}
		b.WithSource(src).AddError(fmt.Errorf("%s: %s", d.Summary, d.Detail))
	}
}
