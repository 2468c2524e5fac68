package handler

import (
	"context"

	"github.com/samber/do"
	"github.com/samber/lo"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/prompt"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/publish"
)

// Input is the lambda event. Missing prompts are picked at random, missing
// alpha and guidance take their defaults and seed 0 means a random seed.
type Input struct {
	PromptA  string   `json:"prompt_a,omitempty"`
	PromptB  string   `json:"prompt_b,omitempty"`
	Alpha    *float64 `json:"alpha,omitempty"`
	Guidance *float64 `json:"guidance,omitempty"`
	Seed     int64    `json:"seed,omitempty"`
}

func (i Input) toParams() blend.Params {
	return blend.Params{
		PromptA:  i.PromptA,
		PromptB:  i.PromptB,
		Alpha:    lo.FromPtrOr(i.Alpha, blend.DefaultAlpha),
		Guidance: lo.FromPtrOr(i.Guidance, blend.DefaultGuidance),
		Seed:     i.Seed,
	}
}

type Output struct {
	blend.Params
	Model string   `json:"model"`
	ID    string   `json:"id"`
	Paths []string `json:"paths"`
}

type Handler struct {
	randomizer *prompt.Randomizer
	pipeline   *model.Pipeline
	publisher  *publish.Publisher
}

func NewHandler(i *do.Injector) (*Handler, error) {
	publisher, err := do.Invoke[*publish.Publisher](i)
	if err != nil {
		return nil, err
	}
	return &Handler{
		randomizer: do.MustInvoke[*prompt.Randomizer](i),
		pipeline:   do.MustInvoke[*model.Pipeline](i),
		publisher:  publisher,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("input", input)
	log.Info("handling lambda invocation")

	if input.PromptA == "" || input.PromptB == "" {
		a, b, err := h.randomizer.Randomize(ctx)
		if err != nil {
			return Output{}, err
		}
		input.PromptA = lo.Ternary(input.PromptA != "", input.PromptA, a)
		input.PromptB = lo.Ternary(input.PromptB != "", input.PromptB, b)
	}
	if input.Seed == 0 {
		input.Seed = h.randomizer.Seed()
	}

	params := input.toParams()
	if err := params.Validate(); err != nil {
		return Output{}, err
	}

	img, err := blend.Generate(ctx, h.pipeline, params)
	if err != nil {
		return Output{}, err
	}

	record := publish.NewRecord(params, h.pipeline.Name(), img)
	paths, err := h.publisher.Publish(ctx, record)
	if err != nil {
		return Output{}, err
	}

	return Output{Params: params, Model: record.Model, ID: record.Name(), Paths: paths}, nil
}
