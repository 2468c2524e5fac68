// Package page renders the HTML of the blend form and of published results.
package page

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"sync"

	"github.com/go-logr/logr"
)

//go:embed assets/*.html
var assets embed.FS

// FormParams fill the blend form with its initial values.
type FormParams struct {
	Model     string
	Device    string
	Precision string
	Steps     int

	PromptA  string
	PromptB  string
	Alpha    float64
	Guidance float64
	Seed     int64
	MaxSeed  int64
}

// Params describe one published blend.
type Params struct {
	Image     string
	Thumbnail string
	Model     string
	PromptA   string
	PromptB   string
	Alpha     string
	Guidance  string
	Seed      string
	Created   string
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func NewTemplator() *Templator {
	return &Templator{}
}

func (g *Templator) execute(ctx context.Context, name string, params any) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.ParseFS(assets, "assets/*.html"))
	})

	log := logr.FromContextOrDiscard(ctx).WithName("templator")
	log.V(1).Info("generating page", "template", name)

	var data bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&data, name, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}

func (g *Templator) Form(ctx context.Context, params FormParams) ([]byte, error) {
	return g.execute(ctx, "form.html", params)
}

func (g *Templator) Result(ctx context.Context, params Params) ([]byte, error) {
	return g.execute(ctx, "result.html", params)
}
