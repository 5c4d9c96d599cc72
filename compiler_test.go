package blockview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testUser struct {
	Name  string
	Tags  []string
	inner string
}

func (u testUser) Greeting() string { return "Hi " + u.Name }

func TestCompile_HelloWorld(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"hello": "Hello <%= name %>!",
	})
	require.Equal(t, "Hello Mick!", renderString(t, e, "hello", map[string]any{"name": "Mick"}))
}

func TestCompile_FailSoft(t *testing.T) {
	e, logs := newTestEngine(t, nil)
	p := e.Compile("broken", "a{% if %}b")
	require.False(t, p.Compiled())

	var pe *ParseError
	require.True(t, errors.As(p.Err(), &pe))
	require.Equal(t, 1, pe.Line)

	r := e.NewRenderer(context.Background())
	r.Execute(p, nil, true)
	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(html, `<!-- template "broken" failed to compile:`), html)
	require.Contains(t, logs.String(), "template failed to compile")
}

func TestCompile_UnterminatedIsSyntaxError(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	p := e.Compile("open", "a\n<%= name")
	require.False(t, p.Compiled())

	var pe *ParseError
	require.True(t, errors.As(p.Err(), &pe))
	require.Equal(t, 2, pe.Line)
}

func TestCompile_ScopeFallback(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"paths": "<%= a.b.c %>|<%= a.b.missing %>|<%= x.y.z %>|<%= user.Greeting %>|<%= user.Tags[1] %>|<%= user.inner %>",
	})
	data := map[string]any{
		"a":    map[string]any{"b": map[string]any{"c": 42}},
		"user": &testUser{Name: "Ann", Tags: []string{"x", "y"}, inner: "hidden"},
	}
	require.Equal(t, "42|||Hi Ann|y|", renderString(t, e, "paths", data))
}

func TestCompile_IndexMissingPaths(t *testing.T) {
	e, logs := newTestEngine(t, map[string]string{
		"idx": "x<%= items[0] %>y<%= a.b[1].c %>z<%= list[-1] %>|<%= codes[2] %>|<%= a.b[i] %>",
	})
	require.Equal(t, "xyz||", renderString(t, e, "idx", nil))
	require.NotContains(t, logs.String(), "template runtime error")

	data := map[string]any{
		"list":  []string{"p", "q"},
		"codes": map[int]string{2: "two"},
		"a":     map[string]any{"b": []any{nil, map[string]any{"c": "deep"}}},
		"i":     1,
	}
	require.Equal(t, "xydeepzq|two|map[c:deep]", renderString(t, e, "idx", data))
}

func TestCompile_LetBindings(t *testing.T) {
	e, logs := newTestEngine(t, map[string]string{
		"let": "<%= let x = 2; x * 3 %>|<%= let n = name; n + x %>",
	})
	require.Equal(t, "6|Ann!", renderString(t, e, "let", map[string]any{"name": "Ann", "x": "!"}))
	require.NotContains(t, logs.String(), "template runtime error")
}

func TestCompile_OperatorArguments(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"p": `<% print "a" + name %>|<% implement "c" title = name + "!" %>`,
		"c": "[<%= title %>]",
	})
	require.Equal(t, "aBo|[Bo!]", renderString(t, e, "p", map[string]any{"name": "Bo"}))
}

func TestCompile_Escaping(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"esc": `<%= v %>|<%- v %>|{%= v %}|<%= raw(v) %>|<%- escape(v) %>`,
	})
	require.Equal(t, "&lt;b&gt;|<b>|&lt;b&gt;|<b>|&lt;b&gt;", renderString(t, e, "esc", map[string]any{"v": "<b>"}))
}

func TestCompile_Directives(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data any
		want string
	}{
		{"if", "<% if n > 1 %>big<% elseif n == 1 %>one<% else %>none<% /if %>", map[string]any{"n": 1}, "one"},
		{"if missing", "<% if nope %>yes<% else %>no<% /if %>", nil, "no"},
		{"each slice", "<% each items as i, v %><%= i %>=<%= v %>;<% /each %>", map[string]any{"items": []string{"a", "b"}}, "0=a;1=b;"},
		{"each map", "<% each m as k, v %><%= k %><%= v %><% /each %>", map[string]any{"m": map[string]int{"b": 2, "a": 1}}, "a1b2"},
		{"each int", "<% each 3 as i %><%= i %><% /each %>", nil, "012"},
		{"each empty", "<% each items as v %>x<% else %>empty<% /each %>", map[string]any{"items": []int{}}, "empty"},
		{"with", "<% with user.Name as n %><%= n %><% else %>anon<% /with %>", map[string]any{"user": testUser{Name: "Bo"}}, "Bo"},
		{"with else", "<% with user as u %><%= u %><% else %>anon<% /with %>", nil, "anon"},
		{"switch", "<% switch n %><% case 1 %>one<% case 2 %>two<% default %>many<% /switch %>", map[string]any{"n": int64(2)}, "two"},
		{"switch default", "<% switch n %><% case 1 %>one<% default %>many<% /switch %>", map[string]any{"n": 9}, "many"},
		{"macro", `<% macro greet %>Hi <%= who %>.<% /macro %><% run greet who="Al" %><% run greet who=name %>`, map[string]any{"name": "Bea"}, "Hi Al.Hi Bea."},
		{"shadowing", "<% each items as name %><%= name %><% /each %><%= name %>", map[string]any{"name": "outer", "items": []string{"in"}}, "inouter"},
		{"struct root", "<%= Name %>:<%= len(Tags) %>", testUser{Name: "Cy", Tags: []string{"a"}}, "Cy:1"},
		{"nil prints empty", "[<%= nothing %>]", nil, "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, map[string]string{"t": tt.src})
			require.Equal(t, tt.want, renderString(t, e, "t", tt.data))
		})
	}
}

func TestCompile_RuntimeErrorAttribution(t *testing.T) {
	e, logs := newTestEngine(t, map[string]string{
		"t": "ok\n<% boom %>\nafter",
	})
	boom := errors.New("boom")
	e.RegisterCommand("boom", CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
		return nil, boom
	}))

	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("t", nil, true))
	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "ok\n", html)

	errs := r.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)

	var re *RuntimeError
	require.True(t, errors.As(errs[0], &re))
	require.Equal(t, "t", re.Template)
	require.Equal(t, 2, re.Line)
	require.Contains(t, logs.String(), "template runtime error")
}

func TestCompile_UnknownCommandFromExpression(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"t": "a\n\n<% command(\"nope\") %>",
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("t", nil, true))

	errs := r.Errors()
	require.Len(t, errs, 1)
	var re *RuntimeError
	require.True(t, errors.As(errs[0], &re))
	require.Equal(t, 3, re.Line)
}

func TestCompile_CommandsAndHelpers(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.RegisterCommand("shout", CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
		r.Print(strings.ToUpper(args.String(0)) + stringify(args.Named["suffix"]))
		return nil, nil
	}))
	calls := 0
	e.RegisterHelper("counter", func(r *Renderer) any {
		calls++
		n := 0
		return func() int {
			n++
			return n
		}
	})
	p := e.Compile("t", `<% shout "hey" suffix="!" %> <% shout("x") %><%= counter() %><%= counter() %>`)
	require.True(t, p.Compiled(), "%v", p.Err())

	r := e.NewRenderer(context.Background())
	r.Execute(p, nil, true)
	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "HEY! X12", html)
	require.Equal(t, 1, calls)
}
