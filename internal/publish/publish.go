package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/do"
	"golang.org/x/image/draw"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/page"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/store"
)

const (
	ThumbnailSize   = 256
	ThumbnailSuffix = ".thumb.png"
	Latest          = "latest"
)

type Publisher struct {
	uploader    store.Uploader
	invalidator store.Invalidator
	templator   *page.Templator
}

// NewPublisher fails with store.ErrNotConfigured when there is nowhere to
// publish to.
func NewPublisher(i *do.Injector) (*Publisher, error) {
	uploader, err := do.Invoke[store.Uploader](i)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		uploader:    uploader,
		invalidator: do.MustInvoke[store.Invalidator](i),
		templator:   do.MustInvoke[*page.Templator](i),
	}, nil
}

func pageParams(r Record) page.Params {
	return page.Params{
		Image:     r.Name() + ".png",
		Thumbnail: r.Name() + ThumbnailSuffix,
		Model:     r.Model,
		PromptA:   r.Params.PromptA,
		PromptB:   r.Params.PromptB,
		Alpha:     formatFloat(r.Params.Alpha),
		Guidance:  formatFloat(r.Params.Guidance),
		Seed:      strconv.FormatInt(r.Params.Seed, 10),
		Created:   r.Created.Format(time.RFC1123),
	}
}

// Thumbnail scales img down to a square of ThumbnailSize pixels.
func Thumbnail(img image.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Publish uploads the image, its thumbnail and its result page, both under
// the record id and as the latest blend, followed by the record itself under
// its id. It returns the invalidated paths.
func (p *Publisher) Publish(ctx context.Context, r Record) ([]string, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("publisher").WithValues("id", r.Name())
	log.Info("publishing blend")

	img, err := blend.EncodePNG(r.Image)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	thumb, err := blend.EncodePNG(Thumbnail(r.Image))
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	html, err := p.templator.Result(ctx, pageParams(r))
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	record, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	metadata := r.Metadata()
	var (
		uploads []store.UploadParams
		paths   []string
	)
	for _, name := range []string{r.Name(), Latest} {
		uploads = append(uploads,
			store.UploadParams{Name: name + ".png", Data: img, ContentType: "image/png", Metadata: metadata},
			store.UploadParams{Name: name + ThumbnailSuffix, Data: thumb, ContentType: "image/png", Metadata: metadata},
			store.UploadParams{Name: name + ".html", Data: html, ContentType: "text/html", Metadata: metadata},
		)
		if name == r.Name() {
			// The feed lists records, so each follows the files it points to.
			uploads = append(uploads, store.UploadParams{
				Name: name + RecordSuffix, Data: record, ContentType: "application/json", Metadata: metadata,
			})
		}
	}
	for _, u := range uploads {
		if err := p.uploader.Upload(ctx, u); err != nil {
			return nil, fmt.Errorf("upload %s: %w", u.Name, err)
		}
		paths = append(paths, "/"+u.Name)
	}

	if err := p.invalidator.Invalidate(ctx, paths); err != nil {
		return nil, fmt.Errorf("invalidate: %w", err)
	}
	log.V(1).Info("published", "paths", paths)
	return paths, nil
}
