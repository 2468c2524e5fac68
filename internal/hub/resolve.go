package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const DefaultRevision = "main"

// Required and Optional list the files a pipeline needs outside of its
// network weights, which stay with the runtime.
var (
	Required = []string{
		IndexFile,
		"scheduler/scheduler_config.json",
		"tokenizer/vocab.json",
		"tokenizer/merges.txt",
	}
	Optional = []string{
		"tokenizer/tokenizer_config.json",
		"tokenizer/special_tokens_map.json",
	}
)

type Resolver struct {
	Source   Source
	CacheDir string
	Revision string

	// Parallelism bounds concurrent downloads. Zero means 4.
	Parallelism int
}

// Resolve returns a directory holding the artifacts of the pipeline called
// name. A name that is already a local directory is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		if _, err := ReadIndex(name); err != nil {
			return "", err
		}
		return name, nil
	}

	revision := r.Revision
	if revision == "" {
		revision = DefaultRevision
	}
	dir := r.SnapshotDir(name, revision)
	log := logr.FromContextOrDiscard(ctx).WithValues("model", name, "revision", revision, "dir", dir)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lo.Ternary(r.Parallelism > 0, r.Parallelism, 4))
	for _, file := range Required {
		g.Go(func() error { return r.fetch(ctx, name, revision, dir, file) })
	}
	for _, file := range Optional {
		g.Go(func() error {
			err := r.fetch(ctx, name, revision, dir, file)
			if errors.Is(err, ErrNotFound) {
				log.V(1).Info("optional artifact missing", "file", file)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}

	if _, err := ReadIndex(dir); err != nil {
		return "", err
	}
	log.Info("resolved pipeline artifacts")
	return dir, nil
}

// SnapshotDir is where name at revision is cached, in the layout of the
// Hugging Face hub cache.
func (r *Resolver) SnapshotDir(name, revision string) string {
	return filepath.Join(r.CacheDir, "models--"+strings.ReplaceAll(name, "/", "--"), "snapshots", revision)
}

func (r *Resolver) fetch(ctx context.Context, repo, revision, dir, file string) error {
	dst := filepath.Join(dir, filepath.FromSlash(file))
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	rc, err := r.Source.Open(ctx, repo, revision, file)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.partial")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
