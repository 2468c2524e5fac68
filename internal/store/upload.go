// Package store persists published blends on local disk or S3.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/samber/do"
)

var ErrNotConfigured = errors.New("publishing is not configured")

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// NewUploader uploads to the "bucket" when one is named, otherwise to the
// "publish_dir".
func NewUploader(i *do.Injector) (Uploader, error) {
	if bucket := do.MustInvokeNamed[string](i, "bucket"); bucket != "" {
		return &S3Uploader{Client: do.MustInvoke[S3API](i), Bucket: bucket}, nil
	}
	if dir := do.MustInvokeNamed[string](i, "publish_dir"); dir != "" {
		return &FileUploader{Dir: dir}, nil
	}
	return nil, ErrNotConfigured
}

// FileUploader writes each upload to Dir and its metadata to a sidecar
// named <name>.meta.json.
type FileUploader struct {
	Dir string
}

const metaSuffix = ".meta.json"

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	path := filepath.Join(u.Dir, filepath.Base(params.Name))
	log := logr.FromContextOrDiscard(ctx).WithName("file")
	log.Info("writing", "file", path, "content-type", params.ContentType)

	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, params.Data, 0o644); err != nil {
		return err
	}
	if params.Metadata == nil {
		return nil
	}
	meta, err := json.Marshal(params.Metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(path+metaSuffix, meta, 0o644)
}
