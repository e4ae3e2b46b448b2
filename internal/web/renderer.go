// Package web renders the HTML pages of the demo.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/logger"
	sessiondomain "totp-mfa-demo/internal/session/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// BusyMessage is shown when a flow action is already running for the session.
const BusyMessage = "A request is already in progress"

// Page is the data passed to every template.
type Page struct {
	Title string
	Error string
	Info  string
	// Authenticated shows the signed-in navigation.
	Authenticated bool
	Data          interface{}
}

// SetFlash shows f as the page error or info message. A nil flash is ignored.
func (p *Page) SetFlash(f *sessiondomain.Flash) {
	if f == nil {
		return
	}
	if f.Kind == sessiondomain.FlashError {
		p.Error = f.Message
		return
	}
	p.Info = f.Message
}

// Renderer executes the embedded page templates inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"qrURL": qrURL,
}

// NewRenderer parses the layout and every page template.
func NewRenderer() (*Renderer, error) {
	names, err := templateNames()
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(names))}
	for _, name := range names {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// MustNewRenderer is NewRenderer for process start-up and tests; it panics on a template error.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

func templateNames() ([]string, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".html")
		if name == "layout" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Render writes page name with status. The page is executed into a buffer first so a template error
// still produces a clean 500.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, name string, p Page) {
	t, ok := r.pages[name]
	if !ok {
		logger.FromContext(req.Context()).Error("unknown template", zap.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		logger.FromContext(req.Context()).Error("render template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Redirect sends a 303 so a form post is followed by a GET.
func Redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// qrURL trusts the provider's QR payload when it is an image data URI. Anything else is dropped.
func qrURL(s string) template.URL {
	if strings.HasPrefix(s, "data:image/") {
		return template.URL(s)
	}
	return ""
}
