// Package view renders the HTML pages.  Each page template defines "title"
// and "content" blocks that are executed inside the "default" layout.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/leisure-shows/internal/model"
)

//go:embed templates/*.html
var files embed.FS

// Page names accepted by Render.
const (
	PageIndex  = "index"
	PageResult = "result"
)

const layout = "default"

// Renderer implements echo.Renderer.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the layout once per page so that pages can redefine the same
// blocks without clashing.
func New() (*Renderer, error) {
	r := &Renderer{pages: map[string]*template.Template{}}
	for _, name := range []string{PageIndex, PageResult} {
		t, err := template.ParseFS(files, "templates/"+layout+".html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// MustNew is New for package-level setup; it panics on a bad template.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the named page inside the layout.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("view: unknown page %q", name)
	}
	return t.ExecuteTemplate(w, layout, data)
}

// IndexPage is the data for PageIndex.
type IndexPage struct {
	TVNames []model.TVShowName
}

// ResultPage is the data for PageResult.
type ResultPage struct {
	TVDetails model.TVShow
	NoSite    bool
}
