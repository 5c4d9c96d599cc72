package blockview

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseTemplate(t *testing.T, src string) ([]instruction, error) {
	t.Helper()
	segments, err := dissectAll(src, DefaultConfig().Delimiters)
	require.NoError(t, err)
	return parseSegments("test", segments, NewCommandRegistry().Has)
}

func TestParse_Print(t *testing.T) {
	list, err := parseTemplate(t, "a<%= x %>b<%- y %><%# note %><%%>")
	require.NoError(t, err)
	require.Len(t, list, 4)
	require.Equal(t, &printInstr{pos: 1, fragment: "x"}, list[1])
	require.Equal(t, &printInstr{pos: 1, fragment: "y", raw: true}, list[3])
}

func TestParse_If(t *testing.T) {
	list, err := parseTemplate(t, "<% if a %>x<% elseif b %>y<% else %>z<% /if %>")
	require.NoError(t, err)
	require.Len(t, list, 1)

	in, ok := list[0].(*ifInstr)
	require.True(t, ok)
	require.Len(t, in.branches, 2)
	require.Equal(t, "a", in.branches[0].cond)
	require.Equal(t, "b", in.branches[1].cond)
	require.Equal(t, []instruction{&textInstr{pos: 1, text: "z"}}, in.otherwise)
}

func TestParse_Each(t *testing.T) {
	list, err := parseTemplate(t, "<% each items as k, v %>x<% else %>none<% /each %>")
	require.NoError(t, err)

	in, ok := list[0].(*eachInstr)
	require.True(t, ok)
	require.Equal(t, "items", in.iter)
	require.Equal(t, "k", in.key)
	require.Equal(t, "v", in.val)
	require.Len(t, in.body, 1)
	require.Len(t, in.otherwise, 1)
}

func TestParse_SwitchSkipsBlankLines(t *testing.T) {
	src := "<% switch x %>\n  \n<% case 1 %>a<% case 2 %>b<% default %>c<% /switch %>"
	list, err := parseTemplate(t, src)
	require.NoError(t, err)

	in, ok := list[0].(*switchInstr)
	require.True(t, ok)
	require.Len(t, in.cases, 2)
	require.Equal(t, 3, in.cases[0].Line())
	require.True(t, in.hasDefault)
}

func TestParse_Commands(t *testing.T) {
	list, err := parseTemplate(t, `<% assign "title", default="x y" %><% foo(1) %>`)
	require.NoError(t, err)
	require.Equal(t, &commandInstr{pos: 1, name: "assign", args: []argFragment{
		{Fragment: `"title"`},
		{Name: "default", Fragment: `"x y"`},
	}}, list[0])
	require.Equal(t, &evalInstr{pos: 1, fragment: "foo(1)"}, list[1])
}

func TestParse_MacroRunBlock(t *testing.T) {
	list, err := parseTemplate(t, "<% macro row %>r<% /macro %><% run row a=1 b=x %><% block side %>s<% /block %>")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "row", list[0].(*macroInstr).name)
	require.Equal(t, []argFragment{{Name: "a", Fragment: "1"}, {Name: "b", Fragment: "x"}}, list[1].(*runInstr).args)
	require.Equal(t, "side", list[2].(*blockInstr).name)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		src  string
		line int
	}{
		{"<% if a %>x", 1},
		{"a\nb\n<% else %>", 3},
		{"<% /if %>", 1},
		{"<% if %>", 1},
		{"\n<% each items %><% /each %>", 2},
		{"<% run 1x %>", 1},
		{"<% run row 1 %>", 1},
		{"<% switch x %>text<% case 1 %><% /switch %>", 1},
		{"<% macro %><% /macro %>", 1},
		{"<%= %>", 1},
		{`<% assign "a %>`, 1},
	}
	for _, tt := range tests {
		_, err := parseTemplate(t, tt.src)
		var pe *ParseError
		require.True(t, errors.As(err, &pe), "%q: %v", tt.src, err)
		require.Equal(t, tt.line, pe.Line, tt.src)
		require.Equal(t, "test", pe.Template)
	}
}

func TestSplitArgs(t *testing.T) {
	args, err := splitArgs(`"a, b" f(1, 2) [3 4] key={"x": 1},other=y`)
	require.NoError(t, err)
	require.Equal(t, []argFragment{
		{Fragment: `"a, b"`},
		{Fragment: "f(1, 2)"},
		{Fragment: "[3 4]"},
		{Name: "key", Fragment: `{"x": 1}`},
		{Name: "other", Fragment: "y"},
	}, args)

	args, err = splitArgs("a == b")
	require.NoError(t, err)
	require.Equal(t, []argFragment{{Fragment: "a == b"}}, args)

	args, err = splitArgs(`"a" + name "b"`)
	require.NoError(t, err)
	require.Equal(t, []argFragment{{Fragment: `"a" + name`}, {Fragment: `"b"`}}, args)

	args, err = splitArgs(`"c" title = name size=n *2 flag=x and not y`)
	require.NoError(t, err)
	require.Equal(t, []argFragment{
		{Fragment: `"c"`},
		{Name: "title", Fragment: "name"},
		{Name: "size", Fragment: "n *2"},
		{Name: "flag", Fragment: "x and not y"},
	}, args)

	args, err = splitArgs("x -1 ok ? a : b")
	require.NoError(t, err)
	require.Equal(t, []argFragment{{Fragment: "x"}, {Fragment: "-1"}, {Fragment: "ok ? a : b"}}, args)

	_, err = splitArgs("f(1")
	require.Error(t, err)
}
