package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var ErrUnknownScheduler = errors.New("unknown scheduler")

// Config mirrors scheduler/scheduler_config.json of a diffusers pipeline.
type Config struct {
	ClassName         string  `json:"_class_name"`
	NumTrainTimesteps int     `json:"num_train_timesteps"`
	BetaStart         float64 `json:"beta_start"`
	BetaEnd           float64 `json:"beta_end"`
	BetaSchedule      string  `json:"beta_schedule"`
	StepsOffset       int     `json:"steps_offset"`
	SetAlphaToOne     bool    `json:"set_alpha_to_one"`
	SkipPRKSteps      bool    `json:"skip_prk_steps"`
	TimestepSpacing   string  `json:"timestep_spacing"`
	PredictionType    string  `json:"prediction_type"`
}

// DefaultConfig is the scheduler shipped with Stable Diffusion v1.
func DefaultConfig() Config {
	return Config{
		ClassName:         "PNDMScheduler",
		NumTrainTimesteps: 1000,
		BetaStart:         0.00085,
		BetaEnd:           0.012,
		BetaSchedule:      "scaled_linear",
		StepsOffset:       1,
		SetAlphaToOne:     false,
		SkipPRKSteps:      true,
		TimestepSpacing:   "leading",
		PredictionType:    "epsilon",
	}
}

// LoadConfig reads a scheduler_config.json. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.NumTrainTimesteps <= 0 {
		return fmt.Errorf("num_train_timesteps must be positive, got %d", c.NumTrainTimesteps)
	}
	if p := c.PredictionType; p != "" && p != "epsilon" {
		return fmt.Errorf("prediction_type %q is not supported", p)
	}
	switch c.BetaSchedule {
	case "linear", "scaled_linear":
	default:
		return fmt.Errorf("beta_schedule %q is not supported", c.BetaSchedule)
	}
	switch c.TimestepSpacing {
	case "", "leading", "trailing", "linspace":
	default:
		return fmt.Errorf("timestep_spacing %q is not supported", c.TimestepSpacing)
	}
	return nil
}

// AlphasCumprod returns the cumulative product of (1 - beta_t).
func (c Config) AlphasCumprod() []float64 {
	betas := make([]float64, c.NumTrainTimesteps)
	if c.BetaSchedule == "scaled_linear" {
		floats.Span(betas, math.Sqrt(c.BetaStart), math.Sqrt(c.BetaEnd))
		floats.Mul(betas, betas)
	} else {
		floats.Span(betas, c.BetaStart, c.BetaEnd)
	}

	alphas := make([]float64, len(betas))
	for i, b := range betas {
		alphas[i] = 1 - b
	}
	return floats.CumProd(make([]float64, len(alphas)), alphas)
}

func (c Config) finalAlphaCumprod(alphasCumprod []float64) float64 {
	if c.SetAlphaToOne {
		return 1
	}
	return alphasCumprod[0]
}

// spacedTimesteps returns n inference timesteps in descending order.
func (c Config) spacedTimesteps(n int) []float64 {
	T := c.NumTrainTimesteps
	ts := make([]float64, n)
	switch c.TimestepSpacing {
	case "linspace":
		if n == 1 {
			return ts
		}
		floats.Span(ts, 0, float64(T-1))
		slices.Reverse(ts)
	case "trailing":
		ratio := float64(T) / float64(n)
		for i := range ts {
			ts[i] = math.Round(float64(T)-float64(i)*ratio) - 1
		}
	default:
		ratio := T / n
		for i := range ts {
			ts[i] = float64((n-1-i)*ratio + c.StepsOffset)
		}
	}
	return ts
}

// New builds the scheduler named by cfg.ClassName.
func New(cfg Config) (Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	switch cfg.ClassName {
	case "PNDMScheduler":
		return newPNDM(cfg), nil
	case "DDIMScheduler":
		return newDDIM(cfg), nil
	case "EulerDiscreteScheduler":
		return newEuler(cfg), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScheduler, cfg.ClassName)
}

var shortNames = map[string]string{
	"pndm":  "PNDMScheduler",
	"ddim":  "DDIMScheduler",
	"euler": "EulerDiscreteScheduler",
}

// ByName overrides the class of cfg with a short scheduler name (pndm, ddim,
// euler). An empty name keeps cfg.ClassName.
func ByName(name string, cfg Config) (Config, error) {
	if name == "" {
		return cfg, nil
	}
	class, ok := shortNames[strings.ToLower(name)]
	if !ok {
		return cfg, fmt.Errorf("%w: %s", ErrUnknownScheduler, name)
	}
	cfg.ClassName = class
	return cfg, nil
}
