// Command gcpauth is a small example CLI exercising the library end to end:
// it runs discovery, prints an access token for the requested scopes, and
// optionally the project id. It exists to give the library a runnable
// smoke-test surface, not as a production tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aerlon/gcpauth"
	"github.com/aerlon/gcpauth/discovery"
)

// config mirrors the teacher's internal/config.Load() shape (a small flat
// struct populated from env/flags/file), generalized from plain os.Getenv
// calls to viper so flags, environment, and an optional config file all
// bind to the same struct.
type config struct {
	Scopes    []string `mapstructure:"scopes"`
	Verbose   bool     `mapstructure:"verbose"`
	ShowProject bool   `mapstructure:"show_project"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "gcpauth",
		Short: "print a GCP access token discovered from the local environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	cmd.Flags().StringSlice("scopes", []string{"https://www.googleapis.com/auth/cloud-platform"}, "OAuth scopes to request")
	cmd.Flags().Bool("verbose", false, "enable debug logging")
	cmd.Flags().Bool("show-project", false, "also print the resolved project id")

	_ = v.BindPFlag("scopes", cmd.Flags().Lookup("scopes"))
	_ = v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	_ = v.BindPFlag("show_project", cmd.Flags().Lookup("show-project"))

	v.SetEnvPrefix("GCPAUTH")
	v.AutomaticEnv()
	v.SetConfigName(".gcpauth")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	_ = v.ReadInConfig() // absence of a config file is not an error

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync()
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	provider, err := discovery.Select(ctx, gcpauth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("discovering credentials: %w", err)
	}

	tok, err := provider.Token(ctx, cfg.Scopes...)
	if err != nil {
		return fmt.Errorf("fetching token: %w", err)
	}

	fmt.Println(tok.AccessToken())

	if cfg.ShowProject {
		projectID, err := provider.ProjectID(ctx)
		if err != nil {
			if gcpauth.IsKind(err, gcpauth.KindNoProjectID) {
				fmt.Fprintln(os.Stderr, "project id: not available for this credential source")
			} else {
				return fmt.Errorf("fetching project id: %w", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "project id: %s\n", projectID)
		}
	}

	return nil
}
