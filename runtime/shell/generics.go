package shell

import (
	"maps"
	"strings"
	"unicode"

	"github.com/opal-lang/nxsh/core/ast"
	"github.com/opal-lang/nxsh/core/invariant"
)

// Template is a generic function waiting for concrete type arguments.
type Template struct {
	Name       string
	TypeParams []string
	ParamSpec  []string
	Body       ast.Node
}

// RegisterGenericFunctionTemplate stores a template by name, replacing any
// previous one. Instantiations already made from the old template stay
// registered.
func (c *Context) RegisterGenericFunctionTemplate(name string, typeParams, paramSpec []string, body ast.Node) {
	invariant.Precondition(name != "", "template name must not be empty")
	invariant.NotNil(body, "body")
	c.templates[name] = Template{Name: name, TypeParams: typeParams, ParamSpec: paramSpec, Body: body}
}

// Template looks up a template.
func (c *Context) Template(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// SpecializedName is the deterministic name of an instantiation:
// "{name}__gen_{args joined by _}", with every non-alphanumeric character in
// the arguments replaced by '_'.
func SpecializedName(name string, typeArgs []string) string {
	clean := make([]string, len(typeArgs))
	for i, a := range typeArgs {
		clean[i] = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return '_'
		}, a)
	}
	return name + "__gen_" + strings.Join(clean, "_")
}

// EnsureMonomorphized returns the name of the instantiation of name for
// typeArgs, creating and registering it as an ordinary function on first
// use. Later calls with the same arguments return the cached name without
// registering anything. A plain (non-generic) function is instantiated by
// copying it. The second result is false when name is neither a template
// nor a function.
func (c *Context) EnsureMonomorphized(name string, typeArgs []string) (string, bool) {
	key := name + "\x00" + strings.Join(typeArgs, "\x00")
	if spec, ok := c.mono[key]; ok {
		return spec, true
	}

	spec := SpecializedName(name, typeArgs)
	var fn *Function
	if t, ok := c.templates[name]; ok {
		bound := make(map[string]string, len(t.TypeParams))
		for i, p := range t.TypeParams {
			if i < len(typeArgs) {
				bound[p] = typeArgs[i]
			}
		}
		fn = &Function{Name: spec, Params: t.ParamSpec, Body: t.Body, Bound: bound}
	} else if plain, ok := c.funcs[name]; ok {
		fn = &Function{Name: spec, Params: plain.Params, Body: plain.Body, Bound: maps.Clone(plain.Bound)}
	} else {
		return "", false
	}

	if _, exists := c.funcs[spec]; !exists {
		c.funcs[spec] = fn
	}
	c.mono[key] = spec
	return spec, true
}
