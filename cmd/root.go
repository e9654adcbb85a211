// Package cmd defines the nomusic command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nomusic/nomusic-go/internal/conf"
	"github.com/nomusic/nomusic-go/internal/errors"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nomusic",
		Short:         "Local vocal separation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, settings)

	// Flag mistakes are usage errors; main maps the validation
	// category onto the usage exit code.
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.New(err).Component("cli").Category(errors.CategoryValidation).Build()
	})

	rootCmd.AddCommand(
		serveCommand(settings),
		separateCommand(settings),
		downloadCommand(settings),
	)

	return rootCmd
}

// usageArgs classifies positional-argument mistakes as validation
// errors, keeping them on the usage exit code.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return errors.New(err).Component("cli").Category(errors.CategoryValidation).Build()
		}
		return nil
	}
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Paths.Base, "base-dir", viper.GetString("paths.base"), "Base directory for downloads, outputs and state files")
	rootCmd.PersistentFlags().StringVar(&settings.Paths.TempRoot, "temp-dir", viper.GetString("paths.temproot"), "Directory for per-job temp files")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
