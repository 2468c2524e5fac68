package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/samber/do"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/publish"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/store"
)

type Generator struct {
	lister  store.Lister
	reader  store.Reader
	siteURL string
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	lister, err := do.Invoke[store.Lister](i)
	if err != nil {
		return nil, err
	}
	reader, err := do.Invoke[store.Reader](i)
	if err != nil {
		return nil, err
	}
	siteURL := do.MustInvokeNamed[string](i, "site_url")
	return &Generator{lister, reader, strings.TrimSuffix(siteURL, "/")}, nil
}

func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed")
	log.Info("generating rss feed")

	feed := feeds.Feed{
		Title:       "Blended Diffusion",
		Description: "Images generated from the blend of two prompts",
		Link:        &feeds.Link{Href: g.siteURL},
		Updated:     time.Now(),
	}

	objs, err := g.lister.List(ctx, publish.RecordSuffix)
	if err != nil {
		return nil, err
	}

	for _, obj := range objs {
		b, err := g.reader.Read(ctx, obj.Name)
		if err != nil {
			return nil, err
		}
		r, err := publish.ParseRecord(b)
		if err != nil {
			log.Warn("skipping malformed record", "name", obj.Name, "error", err)
			continue
		}

		p := r.Params
		feed.Add(&feeds.Item{
			Id:    r.Name(),
			Title: fmt.Sprintf("%s / %s", p.PromptA, p.PromptB),
			Link:  &feeds.Link{Href: g.siteURL + "/" + r.Name() + ".html"},
			Description: fmt.Sprintf("alpha %v, guidance %v, seed %d, model %s",
				p.Alpha, p.Guidance, p.Seed, r.Model),
			Enclosure: &feeds.Enclosure{
				Url:    g.siteURL + "/" + r.Name() + ".png",
				Type:   "image/png",
				Length: "0",
			},
			Created: r.Created,
			Updated: obj.Updated,
		})
	}

	feed.Sort(func(a, b *feeds.Item) bool {
		return a.Created.Before(b.Created)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
