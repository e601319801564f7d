// Command dirigentd runs the dirigent agent orchestration service.
//
// Usage:
//
//	dirigentd                                  # defaults plus ./dirigent.yaml
//	dirigentd :9090                            # listen address as positional argument
//	dirigentd --listen :9090 --config cfg.yaml
//
// Exit codes: 0 on clean shutdown, 1 on a fatal startup or serving
// error, 2 on a configuration error.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/server"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func newRootCommand() *cobra.Command {
	var (
		listen     string
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "dirigentd [listen-address]",
		Short: "Multi-agent orchestration service",
		Long: `dirigentd hosts the agent runtime: the function dispatch layer, the
async task service, the workflow engine, and the HTTP API.

The listen address can be given as the single positional argument or
with --listen; either overrides service.listen from the config file.
Environment variables with the DIRIGENT_ prefix override file values.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				listen = args[0]
			}
			rt, err := server.New(server.Options{
				ConfigPath: configPath,
				Listen:     listen,
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides service.listen)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

func main() {
	// A .env in the working directory may carry DIRIGENT_* overrides;
	// absence is not an error.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dirigentd: %v\n", err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
