package main

import (
	"context"
	"os"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/cli"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/config"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
)

func main() {
	ctx := log.NewContext(context.Background(), log.New(os.Stderr, config.Debug()))
	if err := cli.NewCLI().ExecuteContext(ctx); err != nil {
		log.FromContextOrDiscard(ctx).Error("exiting", "error", err)
		os.Exit(1)
	}
}
