// Package config reads process configuration from BLEND_* environment
// variables. Every getter falls back to a default when the variable is
// unset or malformed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultModel      = "CompVis/stable-diffusion-v1-4"
	DefaultRuntimeURL = "http://127.0.0.1:7860"
	DefaultHost       = "127.0.0.1:7861"
	DefaultHFEndpoint = "https://huggingface.co"
)

// Var returns the trimmed value of an environment variable, with
// surrounding quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

func stringWithDefault(key, fallback string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return fallback
	}
}

var (
	Model             = stringWithDefault("BLEND_MODEL", DefaultModel)
	Backend           = stringWithDefault("BLEND_BACKEND", "builtin")
	RuntimeURL        = stringWithDefault("BLEND_RUNTIME_URL", DefaultRuntimeURL)
	RuntimeTokenParam = stringWithDefault("BLEND_RUNTIME_TOKEN_PARAM", "")
	Device            = stringWithDefault("BLEND_DEVICE", "")
	Scheduler         = stringWithDefault("BLEND_SCHEDULER", "")
	Host              = stringWithDefault("BLEND_HOST", DefaultHost)
	HFEndpoint        = stringWithDefault("BLEND_HF_ENDPOINT", DefaultHFEndpoint)
	HFTokenParam      = stringWithDefault("BLEND_HF_TOKEN_PARAM", "")
	ModelBucket       = stringWithDefault("BLEND_MODEL_BUCKET", "")
	Bucket            = stringWithDefault("BLEND_BUCKET", "")
	PublishDir        = stringWithDefault("BLEND_PUBLISH_DIR", "")
	Distribution      = stringWithDefault("BLEND_DISTRIBUTION", "")
	SiteURL           = stringWithDefault("BLEND_SITE_URL", "http://"+DefaultHost)
	PromptsParam      = stringWithDefault("BLEND_PROMPTS_PARAM", "")
)

// CacheDir is where pipeline artifacts are cached.
// Default: $HOME/.cache/blended
func CacheDir() string {
	if s := Var("BLEND_CACHE_DIR"); s != "" {
		return s
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "blended")
	}
	return filepath.Join(dir, "blended")
}

// Rate is the number of generation requests per second the server accepts.
// A malformed value returns the default along with an error.
// Default: 1
func Rate() (float64, error) {
	s := Var("BLEND_RATE")
	if s == "" {
		return 1, nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1, fmt.Errorf("BLEND_RATE: %w", err)
	}
	if r <= 0 {
		return 1, fmt.Errorf("BLEND_RATE: %v is not positive", r)
	}
	return r, nil
}

// Debug enables debug logging.
func Debug() bool {
	if s := Var("BLEND_DEBUG"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return true
		}
		return b
	}
	return false
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// Vars lists every recognized variable with its effective value.
func Vars() []EnvVar {
	rate, _ := Rate()
	return []EnvVar{
		{"BLEND_MODEL", Model(), "Pretrained pipeline name or local directory"},
		{"BLEND_BACKEND", Backend(), "Inference backend (builtin, remote)"},
		{"BLEND_RUNTIME_URL", RuntimeURL(), "Base URL of the remote inference runtime"},
		{"BLEND_RUNTIME_TOKEN_PARAM", RuntimeTokenParam(), "SSM parameter holding the runtime token"},
		{"BLEND_DEVICE", Device(), "Force a compute device (default: fastest available)"},
		{"BLEND_SCHEDULER", Scheduler(), "Noise scheduler (pndm, ddim, euler)"},
		{"BLEND_HOST", Host(), "Listen address of the web form"},
		{"BLEND_CACHE_DIR", CacheDir(), "Pipeline artifact cache"},
		{"BLEND_HF_ENDPOINT", HFEndpoint(), "Model hub endpoint"},
		{"BLEND_HF_TOKEN_PARAM", HFTokenParam(), "SSM parameter holding the hub token"},
		{"BLEND_MODEL_BUCKET", ModelBucket(), "S3 bucket to fetch pipeline artifacts from"},
		{"BLEND_BUCKET", Bucket(), "S3 bucket to publish blends to"},
		{"BLEND_PUBLISH_DIR", PublishDir(), "Local directory to publish blends to"},
		{"BLEND_DISTRIBUTION", Distribution(), "CloudFront distribution in front of BLEND_BUCKET"},
		{"BLEND_SITE_URL", SiteURL(), "Public base URL used in feed links"},
		{"BLEND_PROMPTS_PARAM", PromptsParam(), "SSM parameter path holding A|B prompt pairs"},
		{"BLEND_RATE", rate, "Generation requests per second"},
		{"BLEND_DEBUG", Debug(), "Show debug logs"},
	}
}
