package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const index = `{
  "_class_name": "StableDiffusionPipeline",
  "_diffusers_version": "0.2.2",
  "feature_extractor": ["transformers", "CLIPImageProcessor"],
  "safety_checker": [null, null],
  "scheduler": ["diffusers", "PNDMScheduler"],
  "text_encoder": ["transformers", "CLIPTextModel"],
  "tokenizer": ["transformers", "CLIPTokenizer"],
  "unet": ["diffusers", "UNet2DConditionModel"],
  "vae": ["diffusers", "AutoencoderKL"]
}`

var artifacts = map[string]string{
	"model_index.json":                  index,
	"scheduler/scheduler_config.json":   `{"_class_name": "PNDMScheduler"}`,
	"tokenizer/vocab.json":              `{}`,
	"tokenizer/merges.txt":              "#version: 0.2\n",
	"tokenizer/special_tokens_map.json": `{}`,
}

func newHub(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, ok := strings.CutPrefix(r.URL.Path, "/org/model/resolve/main/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		body, ok := artifacts[file]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveDownloadsAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newHub(t, &hits)

	r := &Resolver{
		Source:   &HuggingFace{Client: srv.Client(), Endpoint: srv.URL, Token: "secret"},
		CacheDir: t.TempDir(),
	}
	dir, err := r.Resolve(context.Background(), "org/model")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.CacheDir, "models--org--model", "snapshots", "main"), dir)

	for file, body := range artifacts {
		b, err := os.ReadFile(filepath.Join(dir, file))
		require.NoError(t, err)
		assert.Equal(t, body, string(b))
	}
	_, err = os.Stat(filepath.Join(dir, "tokenizer", "tokenizer_config.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Only the missing optional file is requested again.
	first := hits.Load()
	_, err = r.Resolve(context.Background(), "org/model")
	require.NoError(t, err)
	assert.Equal(t, first+1, hits.Load())
}

func TestResolveMissingRequired(t *testing.T) {
	var hits atomic.Int32
	srv := newHub(t, &hits)

	r := &Resolver{
		Source:   &HuggingFace{Client: srv.Client(), Endpoint: srv.URL, Token: "secret"},
		CacheDir: t.TempDir(),
	}
	_, err := r.Resolve(context.Background(), "org/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte(index), 0o600))

	r := &Resolver{Source: nil, CacheDir: t.TempDir()}
	got, err := r.Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestParseIndex(t *testing.T) {
	idx, err := ParseIndex([]byte(index))
	require.NoError(t, err)
	assert.Equal(t, "StableDiffusionPipeline", idx.ClassName)
	assert.Equal(t, [2]string{"diffusers", "PNDMScheduler"}, idx.Components["scheduler"])
	assert.False(t, idx.Has("safety_checker"))

	_, err = ParseIndex([]byte(`{"_class_name": "Broken", "unet": ["diffusers", "UNet2DConditionModel"]}`))
	assert.ErrorContains(t, err, "scheduler, text_encoder, tokenizer, vae")

	_, err = ParseIndex([]byte(`[`))
	assert.Error(t, err)
}

type fakeS3 map[string]string

func (f fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source(t *testing.T) {
	src := &S3{Client: fakeS3{"mirror/org/model/model_index.json": index}, Bucket: "b", Prefix: "/mirror/"}

	rc, err := src.Open(context.Background(), "org/model", "main", IndexFile)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, index, string(b))

	_, err = src.Open(context.Background(), "org/model", "main", "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
