package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/hub"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tokenizer"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Resolver turns a pipeline name into a local artifact directory.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type Options struct {
	Name      string
	Backend   string
	Device    string
	Scheduler string

	RuntimeURL   string
	RuntimeToken string
	HTTPClient   *http.Client

	// Resolver fetches artifacts. When nil the pipeline falls back to a
	// byte-level tokenizer and default scheduler settings.
	Resolver Resolver

	// CacheEmbeddings keeps recent prompt embeddings in memory.
	CacheEmbeddings bool
}

// LoadRequest is what a backend receives once the device and precision
// are settled.
type LoadRequest struct {
	Name          string
	Dir           string
	Device        Device
	Precision     tensor.Precision
	SafetyChecker bool
}

type Backend interface {
	Devices(ctx context.Context) ([]Device, error)
	Load(ctx context.Context, req LoadRequest) (Parts, error)
}

// Closer is implemented by backends holding resources beyond the process,
// such as a runtime session.
type Closer interface {
	Close() error
}

type BackendFactory func(opts Options) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendFactory{}
)

// RegisterBackend makes a backend available to Load under name.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[name]; dup {
		panic("model: backend registered twice: " + name)
	}
	backends[name] = factory
}

func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load prepares a pipeline once; the result is shared by all generations.
func Load(ctx context.Context, opts Options) (*Pipeline, error) {
	log := log.FromContextOrDiscard(ctx).With("model", opts.Name, "backend", opts.Backend)

	backendsMu.RLock()
	factory, ok := backends[opts.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownBackend, opts.Backend, Backends())
	}
	backend, err := factory(opts)
	if err != nil {
		return nil, err
	}

	var dir string
	tok := tokenizer.NewByteLevel()
	sched := scheduler.DefaultConfig()
	if opts.Resolver != nil {
		if dir, err = opts.Resolver.Resolve(ctx, opts.Name); err != nil {
			return nil, err
		}
		if tok, err = tokenizer.Load(filepath.Join(dir, "tokenizer")); err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		if sched, err = scheduler.LoadConfig(filepath.Join(dir, "scheduler", "scheduler_config.json")); err != nil {
			return nil, fmt.Errorf("load scheduler config: %w", err)
		}
		if _, err := hub.ReadIndex(dir); err != nil {
			return nil, err
		}
	}
	if opts.Scheduler != "" {
		if sched, err = scheduler.ByName(opts.Scheduler, sched); err != nil {
			return nil, err
		}
	}

	devices, err := backend.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	device, err := SelectDevice(devices, opts.Device)
	if err != nil {
		return nil, err
	}
	precision := device.Precision()
	log = log.With("device", device.Name, "precision", precision, "scheduler", sched.ClassName)

	log.Info("safety checker disabled")
	parts, err := backend.Load(ctx, LoadRequest{
		Name:          opts.Name,
		Dir:           dir,
		Device:        device,
		Precision:     precision,
		SafetyChecker: false,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Name, err)
	}
	if parts.Tokenizer == nil {
		parts.Tokenizer = tok
	}
	if precision != tensor.Float32 {
		parts.Encoder = roundEncoder{parts.Encoder, precision}
		parts.Denoiser = roundDenoiser{parts.Denoiser, precision}
		parts.Decoder = roundDecoder{parts.Decoder, precision}
	}
	if opts.CacheEmbeddings {
		parts.Encoder = NewCachedEncoder(parts.Encoder, DefaultCacheExpiration)
	}

	p, err := Assemble(opts.Name, device, precision, sched, parts)
	if err != nil {
		return nil, err
	}
	p.backend = opts.Backend
	if c, ok := backend.(Closer); ok {
		p.closer = c.Close
	}
	log.Info("pipeline loaded", "latent_shape", p.LatentShape())
	return p, nil
}

type roundEncoder struct {
	TextEncoder
	precision tensor.Precision
}

func (e roundEncoder) Encode(ctx context.Context, ids []int32) (*tensor.Tensor, error) {
	t, err := e.TextEncoder.Encode(ctx, ids)
	if err != nil {
		return nil, err
	}
	return e.precision.Round(t), nil
}

type roundDenoiser struct {
	Denoiser
	precision tensor.Precision
}

func (d roundDenoiser) Denoise(ctx context.Context, latents *tensor.Tensor, t float64, cond *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := d.Denoiser.Denoise(ctx, latents, t, cond)
	if err != nil {
		return nil, err
	}
	return d.precision.Round(out), nil
}

type roundDecoder struct {
	Decoder
	precision tensor.Precision
}

func (d roundDecoder) Decode(ctx context.Context, latents *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := d.Decoder.Decode(ctx, latents)
	if err != nil {
		return nil, err
	}
	return d.precision.Round(out), nil
}
