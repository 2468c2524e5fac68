package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/do"
)

type Object struct {
	Name     string
	Metadata map[string]string
	Updated  time.Time
}

type Lister interface {
	List(ctx context.Context, suffix string) ([]Object, error)
}

type Reader interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// NewLister lists whatever the configured Uploader writes to.
func NewLister(i *do.Injector) (Lister, error) {
	uploader, err := do.Invoke[Uploader](i)
	if err != nil {
		return nil, err
	}
	if l, ok := uploader.(Lister); ok {
		return l, nil
	}
	return nil, ErrNotConfigured
}

// NewReader reads back whatever the configured Uploader writes.
func NewReader(i *do.Injector) (Reader, error) {
	uploader, err := do.Invoke[Uploader](i)
	if err != nil {
		return nil, err
	}
	if r, ok := uploader.(Reader); ok {
		return r, nil
	}
	return nil, ErrNotConfigured
}

func (u *FileUploader) Read(ctx context.Context, name string) ([]byte, error) {
	path := filepath.Join(u.Dir, filepath.Base(name))
	logr.FromContextOrDiscard(ctx).WithName("file").V(1).Info("reading", "file", path)
	return os.ReadFile(path)
}

func (u *FileUploader) List(ctx context.Context, suffix string) ([]Object, error) {
	logr.FromContextOrDiscard(ctx).WithName("file").Info("listing", "dir", u.Dir, "suffix", suffix)

	entries, err := os.ReadDir(u.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var objects []Object
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}

		obj := Object{Name: name, Updated: info.ModTime()}
		b, err := os.ReadFile(filepath.Join(u.Dir, name+metaSuffix))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := json.Unmarshal(b, &obj.Metadata); err != nil {
				return nil, err
			}
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
