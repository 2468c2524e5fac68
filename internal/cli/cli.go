// Package cli is the blended command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/samber/do"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/config"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/feed"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/handler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/hub"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/inject"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/publish"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/server"
)

func appendEnvDocs(cmd *cobra.Command, envs []config.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func setup(cmd *cobra.Command) *do.Injector {
	flags := cmd.Flags()
	var opts inject.Options
	opts.Model, _ = flags.GetString("model")
	opts.Backend, _ = flags.GetString("backend")
	opts.Device, _ = flags.GetString("device")
	opts.Scheduler, _ = flags.GetString("scheduler")
	return inject.Setup(cmd.Context(), opts)
}

func shutdown(ctx context.Context, injector *do.Injector) {
	if err := injector.Shutdown(); err != nil {
		log.FromContextOrDiscard(ctx).Warn("shutdown", "error", err)
	}
}

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "blended",
		Short:         "Generate images from the blend of two prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().String("model", config.Model(), "Pretrained pipeline name or local directory")
	rootCmd.PersistentFlags().String("backend", config.Backend(), fmt.Sprintf("Inference backend %v", model.Backends()))
	rootCmd.PersistentFlags().String("device", config.Device(), "Compute device (default: fastest available)")
	rootCmd.PersistentFlags().String("scheduler", config.Scheduler(), "Noise scheduler (pndm, ddim, euler)")

	serveCmd := newServeCmd()
	generateCmd := newGenerateCmd()
	pullCmd := newPullCmd()
	lambdaCmd := newLambdaCmd()
	feedCmd := newFeedCmd()

	appendEnvDocs(rootCmd, config.Vars())
	appendEnvDocs(serveCmd, config.Vars())

	rootCmd.AddCommand(serveCmd, generateCmd, pullCmd, lambdaCmd, feedCmd)
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blend form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			injector := setup(cmd)
			defer shutdown(ctx, injector)

			srv, err := do.Invoke[*server.Server](injector)
			if err != nil {
				return err
			}
			host, _ := cmd.Flags().GetString("host")
			return srv.Serve(ctx, host)
		},
	}
	cmd.Flags().String("host", config.Host(), "Listen address")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var (
		params    blend.Params
		out       string
		doPublish bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one blend and write it as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := params.Validate(); err != nil {
				return err
			}
			injector := setup(cmd)
			defer shutdown(cmd.Context(), injector)
			return generate(cmd, injector, params, out, doPublish)
		},
	}
	cmd.Flags().StringVar(&params.PromptA, "prompt-a", "", "First prompt")
	cmd.Flags().StringVar(&params.PromptB, "prompt-b", "", "Second prompt")
	cmd.Flags().Float64Var(&params.Alpha, "alpha", blend.DefaultAlpha, "Weight of the second prompt, 0 to 1")
	cmd.Flags().Float64Var(&params.Guidance, "guidance", blend.DefaultGuidance, "Guidance scale, 1 to 15")
	cmd.Flags().Int64Var(&params.Seed, "seed", 42, "Noise seed")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default blend-<seed>.png)")
	cmd.Flags().BoolVar(&doPublish, "publish", false, "Publish the result as well")
	return cmd
}

func generate(cmd *cobra.Command, injector *do.Injector, params blend.Params, out string, shouldPublish bool) error {
	ctx := cmd.Context()
	p, err := do.Invoke[*model.Pipeline](injector)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	img, err := blend.Generate(ctx, p, params, blend.WithProgress(func(step, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "denoising")
		}
		_ = bar.Set(step)
	}))
	if err != nil {
		return err
	}

	data, err := blend.EncodePNG(img)
	if err != nil {
		return err
	}
	if out == "" {
		out = fmt.Sprintf("blend-%d.png", params.Seed)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	if !shouldPublish {
		return nil
	}
	publisher, err := do.Invoke[*publish.Publisher](injector)
	if err != nil {
		return err
	}
	paths, err := publisher.Publish(ctx, publish.NewRecord(params, p.Name(), img))
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull NAME",
		Short: "Download and cache pipeline artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			injector := setup(cmd)
			defer shutdown(cmd.Context(), injector)

			resolver, err := do.Invoke[*hub.Resolver](injector)
			if err != nil {
				return err
			}
			dir, err := resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "lambda",
		Short:  "Run as an AWS Lambda function that generates and publishes a blend",
		Args:   cobra.NoArgs,
		Hidden: os.Getenv("AWS_LAMBDA_RUNTIME_API") == "",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			injector := setup(cmd)
			h, err := do.Invoke[*handler.Handler](injector)
			if err != nil {
				return err
			}
			lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
				shutdown(ctx, injector)
			}))
			return nil
		},
	}
}

func newFeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Print the RSS feed of published blends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			injector := setup(cmd)
			defer shutdown(cmd.Context(), injector)

			generator, err := do.Invoke[*feed.Generator](injector)
			if err != nil {
				return err
			}
			rss, err := generator.Generate(cmd.Context())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(rss)
			return err
		},
	}
}
