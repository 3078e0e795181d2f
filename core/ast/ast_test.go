package ast_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opal-lang/nxsh/core/ast"
)

// TestNodeString verifies the unparsed form of common nodes
func TestNodeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node ast.Node
		want string
	}{
		{"command", ast.Cmd("echo", "a", "b"), "echo a b"},
		{"background", &ast.Command{Name: ast.Text("sleep"), Args: ast.Words("1"), Background: true}, "sleep 1 &"},
		{"generic call", &ast.Command{Name: ast.Text("id"), TypeArgs: []string{"int", "str"}}, "id[int,str]"},
		{"pipeline", &ast.Pipeline{Stages: []ast.Node{ast.Cmd("ls"), ast.Cmd("wc", "-l")}}, "ls | wc -l"},
		{"and or", &ast.Or{Left: &ast.And{Left: ast.Cmd("a"), Right: ast.Cmd("b")}, Right: ast.Cmd("c")}, "a && b || c"},
		{"assignment", ast.Set("x", ast.ArithWord(ast.Bin(ast.OpAdd, ast.N(2), ast.N(3)))), "x=$(((2 + 3)))"},
		{"substitution", &ast.Command{Name: ast.Text("echo"), Args: []ast.Word{ast.SubstWord(ast.Cmd("date"))}}, "echo $(date)"},
		{"if", &ast.If{Cond: ast.Cmd("true"), Then: ast.Cmd("a")}, "if true; then a; fi"},
		{"until", &ast.While{Cond: ast.Cmd("false"), Body: ast.Cmd("a"), Until: true}, "until false; do a; done"},
		{"for", &ast.For{Var: "i", Items: ast.Words("1", "2"), Body: ast.Cmd("echo", "x")}, "for i in 1 2; do echo x; done"},
		{"generic decl", &ast.FunctionDecl{Name: "id", TypeParams: []string{"T"}, Params: []string{"x"}, Body: &ast.Block{Stmts: []ast.Node{ast.Cmd("echo", "x")}}}, "id[T](x) { echo x; }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.String())
		})
	}
}

// TestWordLiteral verifies literal detection through quoting
func TestWordLiteral(t *testing.T) {
	t.Parallel()

	w := ast.Word{Parts: []ast.WordPart{
		&ast.Lit{Value: "a"},
		&ast.SingleQuoted{Value: " b"},
		&ast.Quoted{Parts: []ast.WordPart{&ast.Lit{Value: " c"}}},
	}}
	s, ok := w.Literal()
	assert.True(t, ok)
	assert.Equal(t, "a b c", s)

	_, ok = ast.Var("HOME").Literal()
	assert.False(t, ok)

	_, ok = ast.Word{Parts: []ast.WordPart{&ast.Quoted{Parts: []ast.WordPart{&ast.VarRef{Name: "x"}}}}}.Literal()
	assert.False(t, ok)
}
