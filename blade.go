package blockview

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reExtend       = regexp.MustCompile(`@extends\(['"]([\w\-/. ]+)['"]\)`)                        // allow slashes for dirs
	reYield        = regexp.MustCompile(`@yield\(['"]([\w\-]+)['"](?:,\s*['"]([^)\n]*)['"])?\)`)   // @yield('name', 'default')
	reSectionStart = regexp.MustCompile(`@section\(['"]([\w\-]+)['"](?:,\s*['"]([^)\n]*)['"])?\)`) // @section('content', 'value')
	reSectionEnd   = regexp.MustCompile(`@endsection`)                                             // @endsection
	reStack        = regexp.MustCompile(`@stack\(['"]([\w\-]+)['"]\)`)                             // @stack('name')
	rePushStart    = regexp.MustCompile(`@push\(['"]([\w\-]+)['"]\)`)                              // @push('stack_name')
	rePushEnd      = regexp.MustCompile(`@endpush`)                                                // @endpush
	reInclude      = regexp.MustCompile(`@include\(['"]([\w\-/. ]+)['"](?:\s*,\s*([^)\n]+?))?\)`)  // @include('partial', {"a": 1})
	reEcho         = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)                                     // {{ expr }}
)

// translateBlade rewrites Blade-style directives into code segments using the
// given delimiters. Replacements never add or remove newlines, so the lines of
// the result match the lines of src.
//
//	@extends('layouts/main')   => extend "layouts/main"
//	@yield('title', 'Home')    => assign "title" "Home"
//	@section('title', 'About') => a block holding the literal value
//	@section('content') ... @endsection, @push('scripts') ... @endpush => block ... /block
//	@stack('scripts')          => assign "scripts"
//	@include('partials/nav', vars) => include "partials/nav" vars
//	{{ expr }}                 => = expr
func translateBlade(src string, d Delimiters) string {
	code := func(body string) string {
		return d.Open + " " + body + " " + d.Close
	}
	q := strconv.Quote

	src = reExtend.ReplaceAllStringFunc(src, func(m string) string {
		sm := reExtend.FindStringSubmatch(m)
		return code("extend " + q(normalizeName(sm[1])))
	})
	src = reYield.ReplaceAllStringFunc(src, func(m string) string {
		sm := reYield.FindStringSubmatch(m)
		return code("assign " + q(sm[1]) + " " + q(sm[2]))
	})
	src = reSectionStart.ReplaceAllStringFunc(src, func(m string) string {
		sm := reSectionStart.FindStringSubmatch(m)
		if strings.Contains(m, ",") {
			return code("print "+q(sm[2])+" block="+q(sm[1]))
		}
		return code("block " + q(sm[1]))
	})
	src = reSectionEnd.ReplaceAllString(src, code("/block"))
	src = reStack.ReplaceAllStringFunc(src, func(m string) string {
		sm := reStack.FindStringSubmatch(m)
		return code("assign " + q(sm[1]))
	})
	src = rePushStart.ReplaceAllStringFunc(src, func(m string) string {
		sm := rePushStart.FindStringSubmatch(m)
		return code("block " + q(sm[1]))
	})
	src = rePushEnd.ReplaceAllString(src, code("/block"))
	src = reInclude.ReplaceAllStringFunc(src, func(m string) string {
		sm := reInclude.FindStringSubmatch(m)
		body := "include " + q(normalizeName(sm[1]))
		if pipeline := strings.TrimSpace(sm[2]); pipeline != "" {
			body += " " + pipeline
		}
		return code(body)
	})
	src = reEcho.ReplaceAllStringFunc(src, func(m string) string {
		sm := reEcho.FindStringSubmatch(m)
		return code("= " + sm[1])
	})
	return src
}
