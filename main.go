package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nomusic/nomusic-go/cmd"
	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
	"github.com/nomusic/nomusic-go/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 2
	}
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.IsCategory(err, errors.CategoryCancelled) {
			return 130
		}
		if errors.IsCategory(err, errors.CategoryValidation) {
			return 2
		}
		return 1
	}
	return 0
}
