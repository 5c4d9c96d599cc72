package blockview

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func delayed(d time.Duration, value string) *Placeholder {
	return NewPlaceholder(func(ctx context.Context) (string, error) {
		time.Sleep(d)
		return value, nil
	})
}

func TestRenderer_BlockOrder(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	r.Print("a", "main")
	r.Print(delayed(30*time.Millisecond, "slow"), "main")
	r.Print(delayed(0, "fast"), "main")
	r.Print(42, "main")
	r.Print(nil, "main")

	html, err := r.FinishContext(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "aslowfast42", html)
	require.Equal(t, []string{"main"}, r.Blocks())
}

func TestRenderer_TextRuns(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	for range 10000 {
		r.Print("x", "main")
	}
	r.Print(delayed(0, "|"), "main")
	r.Print("y", "main")
	r.Print("z", "main")
	require.Equal(t, 3, r.blocks["main"].Len())

	html, err := r.FinishContext(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("x", 10000)+"|yz", html)

	r.Print("!", "main")
	html, err = r.FinishContext(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("x", 10000)+"|yz!", html)
}

func TestRenderer_StartEnd(t *testing.T) {
	e, logs := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())
	require.Equal(t, DefaultBlock, r.CurrentBlock())

	r.Start("a")
	r.Start("b")
	r.Start("c")
	r.End("b")
	require.Equal(t, "a", r.CurrentBlock())

	r.Start("d")
	r.End("nope")
	require.Equal(t, "a", r.CurrentBlock())
	require.Contains(t, logs.String(), "end does not match an open block")

	r.End()
	require.Equal(t, DefaultBlock, r.CurrentBlock())
	r.End()
	require.Equal(t, DefaultBlock, r.CurrentBlock())
}

func TestRenderer_FinishWaitsForHolds(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	release := r.Hold()
	r.Print("1", "x")

	done := make(chan string, 1)
	r.Finish("x", func(html string, err error) {
		require.NoError(t, err)
		done <- html
	})
	select {
	case <-done:
		t.Fatal("finish ran while work was outstanding")
	default:
	}

	r.Print("2", "x")
	release()
	require.Equal(t, "12", <-done)

	release()
	require.Equal(t, 0, r.Outstanding())
}

func TestRenderer_FinishQueuedAcrossExecutes(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"a": `<% print "A" block="out" %>`,
		"b": `<% print "B" block="out" %>`,
	})
	r := e.NewRenderer(context.Background())
	release := r.Hold()

	var calls atomic.Int32
	var got string
	r.Finish("out", func(html string, err error) {
		calls.Add(1)
		got = html
	})

	require.NoError(t, r.ExecuteTemplate("a", nil, false))
	require.NoError(t, r.ExecuteTemplate("b", nil, false))
	require.Zero(t, calls.Load())
	require.Equal(t, 1, r.Outstanding())

	release()
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "AB", got)
}

func TestRenderer_FinishAcrossGoroutines(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	release := r.Hold()
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Print(delayed(5*time.Millisecond, "late"), "x")
		release()
	}()
	r.Print("early ", "x")

	html, err := r.FinishContext(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "early late", html)
}

func TestRenderer_DefaultBlockBeforeMain(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page":   `<% extend "layout" %>page`,
		"layout": `[<% assign "page__main__" %>]`,
	})
	r := e.NewRenderer(context.Background())
	r.Print("early ")

	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "early ", html)

	require.NoError(t, r.ExecuteTemplate("page", nil, true))
	html, err = r.FinishContext(context.Background(), "page__main__")
	require.NoError(t, err)
	require.Equal(t, "early page", html)
	require.NotContains(t, r.Blocks(), DefaultBlock)

	html, err = r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "[early page]", html)
}

func TestRenderer_MissingBlock(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	_, err := r.FinishContext(context.Background(), "nope")
	var bnf *BlockNotFoundError
	require.True(t, errors.As(err, &bnf))
	require.Equal(t, "nope", bnf.Block)
}

func TestRenderer_FailedPlaceholderIsEmpty(t *testing.T) {
	e, logs := newTestEngine(t, nil)
	r := e.NewRenderer(context.Background())

	r.Print("a", "x")
	r.Print(NewPlaceholder(func(ctx context.Context) (string, error) {
		return "", errors.New("producer failed")
	}), "x")
	r.Print("b", "x")

	html, err := r.FinishContext(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "ab", html)
	require.Contains(t, logs.String(), "placeholder failed")
	require.Len(t, r.Errors(), 1)
}

func TestRenderer_ExtensionChain(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page":   `<% extend "layout" %>ignored<% block main %>Body<% /block %>`,
		"layout": `<header/><% assign "main" %><footer/>`,
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("page", nil, true))

	main, err := r.FinishContext(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "Body", main)

	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "<header/>Body<footer/>", html)

	page, err := r.FinishContext(context.Background(), "page__main__")
	require.NoError(t, err)
	require.Equal(t, "ignored", page)
}

func TestRenderer_OutermostLayout(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page": `<% extend "mid" %><% extend "mid" %><% block content %>C<% /block %>`,
		"mid":  `<% extend "base" %><% block content %>M<% /block %>`,
		"base": `<<% assign "content" %>>`,
	})
	require.Equal(t, "<CM>", renderString(t, e, "page", nil))
}

func TestRenderer_MissingExtension(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page": `<% extend "gone" %>body`,
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("page", nil, true))

	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "body", html)
	require.Len(t, r.Errors(), 1)
	require.ErrorIs(t, r.Errors()[0], ErrTemplateNotFound)
}

func TestRenderer_ImplementPartialInclude(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"card": `[<%= title %>|<%= secret %>]`,
		"inc":  `<%= who %>!`,
		"page": `<% implement "card" title="T" %>/<% partial "card" title="P" %>/<% include "inc" who="you" %>`,
	})
	require.Equal(t, "[T|s]/[P|]/you!", renderString(t, e, "page", map[string]any{"secret": "s"}))
}

func TestRenderer_ImplementWithLayout(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"widget": `<% extend "frame" %><% block body %>w<% /block %>`,
		"frame":  `(<% assign "body" %>)`,
		"page":   `<% block body %>page body<% /block %><% implement "widget" %>`,
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("page", nil, true))

	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "(w)", html)

	body, err := r.FinishContext(context.Background(), "body")
	require.NoError(t, err)
	require.Equal(t, "page body", body)
}

func TestRenderer_MissingSubTemplate(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page": `a<% partial "gone" %>b`,
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("page", nil, true))

	html, err := r.FinishContext(context.Background(), DefaultBlock)
	require.NoError(t, err)
	require.Equal(t, "ab", html)
	require.Len(t, r.Errors(), 1)
}

func TestRenderer_Assign(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page": `<% assign "missing" "dflt" %>|<% assign "empty" default="e" %>|<% block empty %><% /block %><% assign "late" %><% block late %>L<% /block %>`,
	})
	require.Equal(t, "dflt|e|L", renderString(t, e, "page", nil))
}

func TestRenderer_AssignCycle(t *testing.T) {
	e, logs := newTestEngine(t, map[string]string{
		"page": `<% block a %><% assign "b" %><% /block %><% block b %><% assign "a" "x" %><% /block %>`,
	})
	r := e.NewRenderer(context.Background())
	require.NoError(t, r.ExecuteTemplate("page", nil, true))

	b, err := r.FinishContext(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, "x", b)

	a, err := r.FinishContext(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "x", a)

	require.Len(t, r.Errors(), 1)
	require.Contains(t, logs.String(), "would never finish")
}

func TestRenderer_MacrosVisibleToChildren(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"child": `<% run star n=2 %>`,
		"page":  `<% macro star %><% each n as i %>*<% /each %><% /macro %><% partial "child" %>`,
	})
	require.Equal(t, "**", renderString(t, e, "page", nil))
}

func TestRenderer_Scene(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"child": `<%= scene.Get("greeting") %>`,
		"page":  `<% scene.Set("greeting", "hey") %><% partial "child" %>`,
	})
	require.Equal(t, "hey", renderString(t, e, "page", nil))
}

func TestRenderer_CustomCommandPlaceholder(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"page": `a<% later "x" %>b`,
	})
	e.RegisterCommand("later", CommandFunc(func(r *Renderer, args Args) (*Placeholder, error) {
		value := args.String(0)
		return delayed(5*time.Millisecond, "<"+value+">"), nil
	}))
	e.Forget("page")
	require.Equal(t, "a<x>b", renderString(t, e, "page", nil))
}
