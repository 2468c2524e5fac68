// Package hub fetches pipeline artifacts from a model hub or an S3 mirror
// and caches them on local disk.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"
)

var ErrNotFound = errors.New("artifact not found")

// Source opens a single file of a pipeline repository.
type Source interface {
	Open(ctx context.Context, repo, revision, file string) (io.ReadCloser, error)
}

type HuggingFace struct {
	Client   *http.Client
	Endpoint string
	Token    string
}

func (h *HuggingFace) Open(ctx context.Context, repo, revision, file string) (io.ReadCloser, error) {
	u, err := url.JoinPath(h.Endpoint, repo, "resolve", revision, file)
	if err != nil {
		return nil, err
	}
	log := logr.FromContextOrDiscard(ctx).WithValues("url", u)
	log.V(1).Info("fetching artifact")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode >= http.StatusBadRequest:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}

// GetObjectAPI is the part of *s3.Client the S3 source needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 serves artifacts mirrored under {prefix}/{repo}/{file}. Revisions are
// not tracked in the mirror.
type S3 struct {
	Client GetObjectAPI
	Bucket string
	Prefix string
}

func (s *S3) Open(ctx context.Context, repo, _, file string) (io.ReadCloser, error) {
	key := strings.TrimPrefix(strings.Join([]string{strings.Trim(s.Prefix, "/"), repo, file}, "/"), "/")
	log := logr.FromContextOrDiscard(ctx).WithValues("bucket", s.Bucket, "key", key)
	log.V(1).Info("fetching artifact from s3")

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.Bucket, key)
	} else if err != nil {
		return nil, err
	}
	return out.Body, nil
}
