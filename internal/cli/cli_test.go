package cli

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsageListsEnvironment(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Environment Variables:")
	assert.Contains(t, out, "BLEND_MODEL")
	assert.Contains(t, out, "BLEND_RUNTIME_URL")
}

func TestGenerate(t *testing.T) {
	t.Setenv("BLEND_PUBLISH_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "out.png")

	out, err := run(t, "generate",
		"--backend", "builtin", "--model", "builtin", "--scheduler", "ddim",
		"--prompt-a", "a red cube", "--prompt-b", "a blue sphere",
		"--seed", "3", "--out", path, "--publish")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, path, lines[0])
	assert.Contains(t, lines, "/latest.png")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	_, err := run(t, "generate", "--backend", "builtin", "--alpha", "2")
	assert.ErrorContains(t, err, "alpha")
}

func TestPullLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	index := `{"_class_name": "StableDiffusionPipeline",
		"scheduler": ["diffusers", "PNDMScheduler"],
		"tokenizer": ["transformers", "CLIPTokenizer"],
		"text_encoder": ["transformers", "CLIPTextModel"],
		"unet": ["diffusers", "UNet2DConditionModel"],
		"vae": ["diffusers", "AutoencoderKL"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_index.json"), []byte(index), 0o644))

	out, err := run(t, "pull", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(out))
}

func TestFeedNotConfigured(t *testing.T) {
	t.Setenv("BLEND_BUCKET", "")
	t.Setenv("BLEND_PUBLISH_DIR", "")
	_, err := run(t, "feed")
	assert.Error(t, err)
}
