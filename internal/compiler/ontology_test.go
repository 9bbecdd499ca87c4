package compiler

import (
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/semantic"
	"github.com/roach88/semantika/internal/template"
)

func compileSpec(t *testing.T, src string) *Spec {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	spec, err := Compile(v)
	require.NoError(t, err)
	return spec
}

func errorCodes(errs []ValidationError) []string {
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	return codes
}

func TestCompileEntity(t *testing.T) {
	v := cuecontext.New().CompileString(`
		entity: Person: {
			collection: "People"
			fields: {
				name: {type: "string & !=\"\""}
				age: "int"
				status: {default: "active"}
				score: {default: 1.5}
				tags: {default: ["a", "b"]}
				settings: {}
			}
		}
	`)
	require.NoError(t, v.Err())

	es, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Person")))
	require.NoError(t, err)

	assert.Equal(t, "Person", es.Name)
	assert.Equal(t, "People", es.Collection)
	require.Len(t, es.Fields, 6)

	byName := make(map[string]FieldSpec)
	for _, f := range es.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, `string & !=""`, byName["name"].Type)
	assert.Equal(t, "int", byName["age"].Type)
	assert.True(t, byName["status"].HasDefault)
	assert.Equal(t, "active", byName["status"].Default)
	assert.Equal(t, 1.5, byName["score"].Default)
	assert.Equal(t, []any{"a", "b"}, byName["tags"].Default)
	assert.False(t, byName["settings"].HasDefault)
	assert.Empty(t, byName["settings"].Type)
}

func TestCompileIntegerDefault(t *testing.T) {
	spec := compileSpec(t, `entity: Counter: fields: hits: {default: 0}`)
	require.Len(t, spec.Entities, 1)
	assert.Equal(t, int64(0), spec.Entities[0].Fields[0].Default)
	assert.True(t, spec.Entities[0].Fields[0].HasDefault)
}

func TestCompilePredicate(t *testing.T) {
	spec := compileSpec(t, `
		predicate: worksFor: {
			collection: "acme_Jobs"
			payload: position: "string"
			keys: {source: ["name"], target: ["name", "city"], self: ["since"]}
			children: ["manages"]
			rules: [{source: "Person", target: "WorkPlace"}]
		}
		predicate: manages: {}
	`)

	require.Len(t, spec.Predicates, 2)
	ps := spec.Predicates[0]
	assert.Equal(t, "worksFor", ps.Name)
	assert.Equal(t, "acme_Jobs", ps.Collection)
	assert.Equal(t, []FieldSpec{{Name: "position", Type: "string", Pos: ps.Payload[0].Pos}}, ps.Payload)
	assert.Equal(t, KeySpec{Source: []string{"name"}, Target: []string{"name", "city"}, Self: []string{"since"}}, ps.Keys)
	assert.Equal(t, []string{"manages"}, ps.Children)
	assert.Equal(t, []Rule{{Source: "Person", Target: "WorkPlace"}}, ps.Rules)

	assert.Equal(t, "manages", spec.Predicates[1].Name)
	assert.Empty(t, spec.Predicates[1].Children)
}

func TestCompileRejectsMalformedSections(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"field is a number", `entity: A: fields: x: 3`, "fields.x"},
		{"collection is not a string", `entity: A: collection: 3`, "collection"},
		{"parents is not a list", `entity: A: parents: "B"`, "parents"},
		{"children holds a number", `predicate: p: children: [1]`, "children"},
		{"rule without target", `predicate: p: rules: [{source: "A"}]`, "rules"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())
			_, err := Compile(v)
			require.Error(t, err)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileDefaultMustBeConcrete(t *testing.T) {
	v := cuecontext.New().CompileString(`entity: A: fields: x: {default: string}`)
	require.NoError(t, v.Err())
	_, err := Compile(v)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "default", ce.Field)
}

func TestCompileValueError(t *testing.T) {
	v := cuecontext.New().CompileString(`entity: A: collection: "x" & "y"`)
	_, err := Compile(v)
	require.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "fields.x", Message: "bad"}
	assert.Equal(t, "fields.x: bad", err.Error())
}

func TestValidate_Clean(t *testing.T) {
	spec := compileSpec(t, `
		entity: Person: {}
		entity: Employee: parents: ["Person"]
		predicate: worksFor: {
			keys: {source: ["name"], self: ["since"]}
			children: ["manages"]
			rules: [{source: "Employee", target: "Person"}]
		}
		predicate: manages: {}
	`)
	assert.Empty(t, Validate(spec))
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"separator in entity name", `entity: Work_Place: {}`, ErrInvalidName},
		{"unknown child", `predicate: p: children: ["q"]`, ErrUnknownChild},
		{"unknown parent", `entity: A: parents: ["B"]`, ErrUnknownParent},
		{"self key is a record field", `predicate: p: keys: self: ["sourceId"]`, ErrBadSelfKey},
		{"self key shadows a source key", `predicate: p: keys: {source: ["name"], self: ["_source_name"]}`, ErrBadSelfKey},
		{"self key repeated", `predicate: p: keys: self: ["since", "since"]`, ErrBadSelfKey},
		{"type and default", `entity: A: fields: x: {type: "string", default: "a"}`, ErrTypeAndDefault},
		{"rule names unknown entity", `entity: A: {}
			predicate: p: rules: [{source: "A", target: "B"}]`, ErrUnknownRuleEntity},
		{"invalid constraint", `entity: A: fields: x: "string &"`, ErrInvalidConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(compileSpec(t, tt.src))
			assert.Equal(t, []string{tt.code}, errorCodes(errs))
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	spec := compileSpec(t, `
		entity: A: parents: ["Missing"]
		predicate: p: children: ["q", "r"]
	`)
	errs := Validate(spec)
	assert.Equal(t, []string{ErrUnknownParent, ErrUnknownChild, ErrUnknownChild}, errorCodes(errs))
	assert.Contains(t, errs[0].Error(), "[E204]")
}

func TestAnalyzeCycles(t *testing.T) {
	spec := compileSpec(t, `
		entity: A: parents: ["B"]
		entity: B: parents: ["A"]
		entity: C: parents: ["A"]
		predicate: p: children: ["p"]
		predicate: q: children: ["r"]
		predicate: r: children: ["s"]
		predicate: s: children: ["q"]
	`)

	cycles := AnalyzeCycles(spec)
	require.Len(t, cycles, 3)

	assert.Equal(t, "entity.parents", cycles[0].Kind)
	assert.Equal(t, []string{"A", "B", "A"}, cycles[0].Path)
	assert.Equal(t, "hierarchy cycle: A → B → A", cycles[0].Message)

	assert.Equal(t, "predicate.children", cycles[1].Kind)
	assert.Equal(t, []string{"p", "p"}, cycles[1].Path)

	assert.Equal(t, []string{"q", "r", "s", "q"}, cycles[2].Path)
}

func TestAnalyzeCycles_None(t *testing.T) {
	spec := compileSpec(t, `
		entity: A: {}
		entity: B: parents: ["A"]
		predicate: p: children: ["q"]
		predicate: q: {}
	`)
	assert.Empty(t, AnalyzeCycles(spec))
	assert.Empty(t, AnalyzeCycles(&Spec{}))
}

func TestBuild_RejectsCycle(t *testing.T) {
	spec := compileSpec(t, `
		predicate: a: children: ["b"]
		predicate: b: children: ["a"]
	`)
	_, err := Build(spec)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{ErrHierarchyCycle}, errorCodes(verrs))
	assert.Contains(t, err.Error(), "a → b → a")
}

func TestBuild_Descriptors(t *testing.T) {
	res, err := CompileString(`
		entity: Person: fields: {
			name: "string & !=\"\""
			status: {default: "active"}
			settings: {}
		}
		entity: Employee: {
			collection: "Staff"
			parents: ["Person"]
		}
		predicate: worksFor: {
			payload: position: "string"
			keys: {source: ["name"], self: ["since"]}
			children: ["manages"]
			rules: [{source: "Employee", target: "Person"}]
		}
		predicate: manages: {}
	`, "inline.cue")
	require.NoError(t, err)
	raw := res.Ontology

	require.Len(t, raw.Entities, 2)
	person, employee := raw.Entities[0], raw.Entities[1]
	assert.Equal(t, "Person", person.Name())
	assert.Equal(t, []string{"name", "settings", "status"}, person.Template().Fields())

	nameEntry := person.Template()["name"]
	require.IsType(t, &template.CUEValidator{}, nameEntry.Validator)
	assert.Equal(t, `string & !=""`, nameEntry.Validator.(*template.CUEValidator).Expr())
	assert.Equal(t, "active", person.Template()["status"].Default)
	assert.Equal(t, template.Entry{}, person.Template()["settings"])

	assert.Equal(t, "Staff", employee.CollectionName())
	require.Len(t, employee.Parents(), 1)
	assert.Same(t, person, employee.Parents()[0])

	require.Len(t, raw.Predicates, 2)
	worksFor, manages := raw.Predicates[0], raw.Predicates[1]
	require.Len(t, worksFor.Children(), 1)
	assert.Same(t, manages, worksFor.Children()[0], "a child is built once and shared")
	assert.Equal(t, semantic.PredicateKeys{Source: []string{"name"}, Self: []string{"since"}}, worksFor.Keys())
	assert.Equal(t, []Rule{{Source: "Employee", Target: "Person"}}, worksFor.Rules())
	assert.Contains(t, worksFor.Payload(), "position")
	assert.Nil(t, manages.Payload())
}

func TestBuild_OntologyAcceptsCompiledDescriptors(t *testing.T) {
	res, err := LoadDir(filepath.Join("testdata", "acme"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)

	o, err := semantic.NewOntology("acme", res.Ontology, nil)
	require.NoError(t, err)

	employee, err := o.Edcr("Employee")
	require.NoError(t, err)
	assert.Equal(t, "acme", employee.PackageName())

	worksFor, err := o.Pdcr("worksFor")
	require.NoError(t, err)
	assert.Equal(t, []string{"manages", "worksFor"}, o.Expand(worksFor))

	knows, err := o.Pdcr("knows")
	require.NoError(t, err)
	assert.Equal(t, "acme_Social", knows.CollectionName())
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "missing"))
	assert.Error(t, err)

	_, err = LoadDir(filepath.Join("testdata", "acme", "entities.cue"))
	assert.ErrorContains(t, err, "not a directory")

	_, err = LoadDir(filepath.Join("testdata", "empty"))
	assert.ErrorContains(t, err, "no CUE files")
}

func TestCompileString_SyntaxError(t *testing.T) {
	_, err := CompileString(`entity: {`, "broken.cue")
	require.Error(t, err)
}
