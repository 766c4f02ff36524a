package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/straja-ai/piiscope/internal/auth"
	"github.com/straja-ai/piiscope/internal/server"
)

var flagServeAddr string

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection HTTP API",
	Long: `Serve the detection API. Each workspace (selected by API key) holds one
current detection run; a new run replaces it.

	Examples:
	  piiscope serve
	  piiscope serve --addr 127.0.0.1:9090 -c /etc/piiscope.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr := cfg.Server.Addr
		if flagServeAddr != "" {
			addr = flagServeAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		authz, err := auth.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		a, err := buildApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		srv := server.New(cfg, server.Deps{
			Engine:  a.engine,
			Auth:    authz,
			Emitter: a.emitter,
			Search:  a.search,
		})
		return srv.Start(ctx, addr)
	},
}
