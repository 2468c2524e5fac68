package prompt

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/do"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
)

var ErrMalformed = errors.New("prompt pair is not of the form A|B")

// DefaultPairs are used when no prompt pairs are configured.
var DefaultPairs = []string{
	"a watercolor painting of a lighthouse|a neon city at night",
	"a red cube on a table|a blue glass sphere",
	"a portrait of an old sailor|a marble statue",
	"a forest in autumn|a coral reef",
	"a cat wearing a hat|a steam locomotive",
}

type Randomizer struct {
	prompts []string

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	prompts := do.MustInvokeNamed[[]string](i, "prompts")
	if len(prompts) == 0 {
		prompts = DefaultPairs
	}
	seed := uint64(time.Now().UTC().UnixNano())
	return &Randomizer{prompts: prompts, rnd: rand.New(rand.NewPCG(seed, seed>>1))}, nil
}

// Randomize picks one of the configured A|B pairs.
func (r *Randomizer) Randomize(ctx context.Context) (string, string, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("randomizer")
	log.Info("getting random prompt pair")

	r.mu.Lock()
	idx := r.rnd.IntN(len(r.prompts))
	r.mu.Unlock()

	a, b, ok := strings.Cut(r.prompts[idx], "|")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformed, r.prompts[idx])
	}
	return strings.TrimSpace(a), strings.TrimSpace(b), nil
}

// Seed returns a random seed in [1, blend.MaxSeed].
func (r *Randomizer) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Int64N(blend.MaxSeed) + 1
}
