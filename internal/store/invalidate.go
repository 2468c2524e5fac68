package store

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/samber/do"
)

type Invalidator interface {
	Invalidate(context.Context, []string) error
}

// NewInvalidator invalidates through CloudFront when a "distribution" is
// named and does nothing otherwise.
func NewInvalidator(i *do.Injector) (Invalidator, error) {
	if dist := do.MustInvokeNamed[string](i, "distribution"); dist != "" {
		return &CloudFrontInvalidator{Client: do.MustInvoke[CloudFrontAPI](i), Distribution: dist}, nil
	}
	return NoopInvalidator{}, nil
}

type NoopInvalidator struct{}

func (NoopInvalidator) Invalidate(ctx context.Context, paths []string) error {
	logr.FromContextOrDiscard(ctx).V(1).Info("no cdn to invalidate", "paths", paths)
	return nil
}
