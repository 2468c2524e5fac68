package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/samber/do"
	"github.com/samber/lo"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/config"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/feed"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/handler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/hub"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	_ "github.com/abhisheksharma026/Blended-Diffusion/internal/model/builtin"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model/remote"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/page"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/param"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/prompt"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/publish"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/server"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/store"
)

// Options override the configured pipeline. Empty fields keep the value
// from the environment.
type Options struct {
	Model     string
	Backend   string
	Device    string
	Scheduler string
}

func (o Options) withDefaults() Options {
	return Options{
		Model:     lo.Ternary(o.Model != "", o.Model, config.Model()),
		Backend:   lo.Ternary(o.Backend != "", o.Backend, config.Backend()),
		Device:    lo.Ternary(o.Device != "", o.Device, config.Device()),
		Scheduler: lo.Ternary(o.Scheduler != "", o.Scheduler, config.Scheduler()),
	}
}

func Setup(ctx context.Context, opts Options) *do.Injector {
	log := log.FromContextOrDiscard(ctx)
	opts = opts.withDefaults()

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[param.SSMAPI](injector, func(i *do.Injector) (param.SSMAPI, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[store.S3API](injector, func(i *do.Injector) (store.S3API, error) {
		return do.MustInvoke[*s3.Client](i), nil
	})
	do.Provide[hub.GetObjectAPI](injector, func(i *do.Injector) (hub.GetObjectAPI, error) {
		return do.MustInvoke[*s3.Client](i), nil
	})
	do.Provide[store.CloudFrontAPI](injector, func(i *do.Injector) (store.CloudFrontAPI, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	// Parameter Store is only reached when a parameter path is configured.
	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	fetch := func(path string) func(*do.Injector) (string, error) {
		return func(i *do.Injector) (string, error) {
			if path == "" {
				return "", nil
			}
			return do.MustInvoke[param.Fetcher](i).Fetch(ctx, path)
		}
	}
	do.ProvideNamed[string](injector, "hf_token", fetch(config.HFTokenParam()))
	do.ProvideNamed[string](injector, "runtime_token", fetch(config.RuntimeTokenParam()))
	do.ProvideNamed[[]string](injector, "prompts", func(i *do.Injector) ([]string, error) {
		if config.PromptsParam() == "" {
			return nil, nil
		}
		return do.MustInvoke[param.Fetcher](i).FetchAll(ctx, config.PromptsParam())
	})
	do.ProvideNamedValue[string](injector, "bucket", config.Bucket())
	do.ProvideNamedValue[string](injector, "publish_dir", config.PublishDir())
	do.ProvideNamedValue[string](injector, "distribution", config.Distribution())
	do.ProvideNamedValue[string](injector, "site_url", config.SiteURL())
	rate, err := config.Rate()
	if err != nil {
		log.Warn("invalid rate, using default", "error", err, "rate", rate)
	}
	do.ProvideNamedValue[float64](injector, "rate", rate)

	do.Provide[*hub.Resolver](injector, func(i *do.Injector) (*hub.Resolver, error) {
		var source hub.Source
		if bucket := config.ModelBucket(); bucket != "" {
			source = &hub.S3{Client: do.MustInvoke[hub.GetObjectAPI](i), Bucket: bucket}
		} else {
			token, err := do.InvokeNamed[string](i, "hf_token")
			if err != nil {
				return nil, err
			}
			source = &hub.HuggingFace{Client: do.MustInvoke[*http.Client](i), Endpoint: config.HFEndpoint(), Token: token}
		}
		return &hub.Resolver{Source: source, CacheDir: config.CacheDir()}, nil
	})
	do.Provide[*model.Pipeline](injector, func(i *do.Injector) (*model.Pipeline, error) {
		loadOpts := model.Options{
			Name:            opts.Model,
			Backend:         opts.Backend,
			Device:          opts.Device,
			Scheduler:       opts.Scheduler,
			HTTPClient:      do.MustInvoke[*http.Client](i),
			CacheEmbeddings: true,
		}
		if opts.Backend == remote.Name {
			token, err := do.InvokeNamed[string](i, "runtime_token")
			if err != nil {
				return nil, err
			}
			loadOpts.RuntimeURL = config.RuntimeURL()
			loadOpts.RuntimeToken = token
			loadOpts.Resolver = do.MustInvoke[*hub.Resolver](i)
		}
		return model.Load(ctx, loadOpts)
	})

	do.Provide[store.Uploader](injector, store.NewUploader)
	do.Provide[store.Invalidator](injector, store.NewInvalidator)
	do.Provide[store.Lister](injector, store.NewLister)
	do.Provide[store.Reader](injector, store.NewReader)
	do.ProvideValue[*page.Templator](injector, page.NewTemplator())
	do.Provide[*publish.Publisher](injector, publish.NewPublisher)
	do.Provide[*feed.Generator](injector, feed.NewGenerator)
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)

	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*server.Server](injector, server.NewServer)

	return injector
}
