// Package console renders the server-side web console: item type and
// action pickers, the derived parameter form, batch job pages and the
// bridge settings.
package console

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// Page carries what every console page needs besides its own content.
type Page struct {
	Title    string
	BasePath string
	User     string
	CSRF     string
	// Refresh reloads the page after that many seconds when positive.
	Refresh int
}

// URL joins the base path and a console path.
func (p Page) URL(path string) string {
	return p.BasePath + path
}

type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(parts ...string) {
	for _, s := range parts {
		if h.err != nil {
			return
		}
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) render(ctx context.Context, c templ.Component) {
	if h.err != nil || c == nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

var esc = templ.EscapeString[string]

func component(fn func(ctx context.Context, h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		fn(ctx, h)
		return h.err
	})
}

const styles = `body{font-family:system-ui,sans-serif;margin:0;color:#1f2933;background:#f5f7fa}
header{background:#243b53;color:#fff;padding:.75rem 1.5rem;display:flex;gap:1.5rem;align-items:center}
header a{color:#fff;text-decoration:none}header .user{margin-left:auto;opacity:.8}
main{max-width:960px;margin:1.5rem auto;padding:0 1.5rem}
.card{background:#fff;border-radius:6px;padding:1rem 1.25rem;margin-bottom:1rem;box-shadow:0 1px 2px rgba(0,0,0,.08)}
.field{margin-bottom:.75rem}.field label{display:block;font-weight:600;margin-bottom:.25rem}
input[type=text],input[type=number],input[type=date],select,textarea{width:100%;padding:.4rem;box-sizing:border-box}
textarea{min-height:6rem}
.banner{padding:.75rem 1rem;border-radius:4px;margin-bottom:1rem}
.banner.error{background:#fde8e8;color:#9b1c1c}.banner.info{background:#e1effe;color:#1e429f}
table{width:100%;border-collapse:collapse}th,td{text-align:left;padding:.35rem .5rem;border-bottom:1px solid #e4e7eb}
progress{width:100%;height:1.25rem}
.status-running{color:#1e429f}.status-completed{color:#03543f}.status-canceled,.status-interrupted{color:#9b1c1c}
button{padding:.45rem 1rem;cursor:pointer}`

// Layout wraps a page body in the console chrome.
func Layout(p Page, body templ.Component) templ.Component {
	return component(func(ctx context.Context, h *htmlWriter) {
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`,
			`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		if p.Refresh > 0 {
			h.raw(`<meta http-equiv="refresh" content="`, strconv.Itoa(p.Refresh), `">`)
		}
		h.raw(`<title>`)
		if p.Title != "" {
			h.text(p.Title)
			h.raw(` - `)
		}
		h.raw(`Massive actions</title><style>`, styles, `</style></head><body>`)
		h.raw(`<header><strong>Massive actions</strong>`,
			`<a href="`, esc(p.URL("/console/")), `">Item types</a>`,
			`<a href="`, esc(p.URL("/console/jobs")), `">Jobs</a>`,
			`<a href="`, esc(p.URL("/console/settings")), `">Settings</a>`)
		if p.User != "" {
			h.raw(`<span class="user">`)
			h.text(p.User)
			h.raw(`</span>`)
		}
		h.raw(`</header><main>`)
		if p.Title != "" {
			h.raw(`<h1>`)
			h.text(p.Title)
			h.raw(`</h1>`)
		}
		h.render(ctx, body)
		h.raw(`</main></body></html>`)
	})
}

// ErrorBanner renders a dismissable error message.
func ErrorBanner(message string) templ.Component {
	return banner("error", message)
}

// InfoBanner renders an informational message.
func InfoBanner(message string) templ.Component {
	return banner("info", message)
}

func banner(kind, message string) templ.Component {
	return component(func(_ context.Context, h *htmlWriter) {
		h.raw(`<div class="banner `, kind, `" role="alert">`)
		h.text(message)
		h.raw(`</div>`)
	})
}

func csrfField(h *htmlWriter, token string) {
	if token == "" {
		return
	}
	h.raw(`<input type="hidden" name="csrf_token" value="`, esc(token), `">`)
}

func hidden(h *htmlWriter, name, value string) {
	h.raw(`<input type="hidden" name="`, esc(name), `" value="`, esc(value), `">`)
}
