package blockview

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gin-gonic/gin/render"
)

type View interface {
	Name() string
	Data() any
	Status() int
}

type view struct {
	name   string
	data   any
	status int
}

func NewView(name string, data any, status ...int) View {
	statusCode := http.StatusOK
	if len(status) > 0 {
		statusCode = status[0]
	}
	return view{
		name:   name,
		data:   data,
		status: statusCode,
	}
}

func (v view) Name() string {
	return v.name
}

func (v view) Data() any {
	return v.data
}

func (v view) Status() int {
	return v.status
}

var _ render.HTMLRender = (*HtmlRender)(nil)

// HtmlRender gin HtmlRender compatible
type HtmlRender struct {
	e   *Engine
	ctx context.Context
}

// NewHTMLRender create a new HtmlRender. Renders started through it use ctx,
// or context.Background when none is given.
func NewHTMLRender(e *Engine, ctx ...context.Context) *HtmlRender {
	h := &HtmlRender{e: e, ctx: context.Background()}
	if len(ctx) > 0 && ctx[0] != nil {
		h.ctx = ctx[0]
	}
	return h
}

// Instance returns a new render.Render. data may be a View, whose name and
// data then replace the arguments.
func (h *HtmlRender) Instance(name string, data any) render.Render {
	if v, ok := data.(View); ok {
		name, data = v.Name(), v.Data()
	}
	return &Render{e: h.e, ctx: h.ctx, name: name, data: data}
}

// Render renders a template with data and writes the main block to w
type Render struct {
	e    *Engine
	ctx  context.Context
	name string
	data any
}

// Render renders the template and writes it to w. Nothing is written when the
// template cannot be found, so gin can still report the error.
func (r *Render) Render(w http.ResponseWriter) error {
	var buf bytes.Buffer
	if err := r.e.Render(r.ctx, &buf, r.name, r.data); err != nil {
		return err
	}
	r.WriteContentType(w)
	_, err := buf.WriteTo(w)
	return err
}

// WriteContentType write an HTML content type to the response header if not set
func (r *Render) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = []string{"text/html; charset=utf-8"}
	}
}
