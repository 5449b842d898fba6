package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quatton/qwatch/pkg/qapi"
	"github.com/quatton/qwatch/pkg/qapi/config"
	"github.com/quatton/qwatch/pkg/qapi/routes"
	"github.com/quatton/qwatch/pkg/qapi/services"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inference service simulator",
	Long: `Serve a simulated staged inference service. Runs advance one stage per
STAGE_DELAY and publish deterministic artifacts. Configuration comes from the
environment (PORT, VARIANT, STAGE_DELAY, KV_BACKEND, VALKEY_*, HISTORY_ENABLED,
DB_*); a .env file is read in development.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	logger := GetLogger(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ValidateEnv(logger)
	if err != nil {
		return err
	}
	cfg.Print(func(format string, args ...interface{}) {
		fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	})

	svcs, err := services.NewServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svcs.Close()

	api := qapi.NewApi()
	routes.RegisterAPI(api.Api, svcs)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("simulator starting", "addr", srv.Addr, "variant", cfg.Variant)
		logger.Info("OpenAPI docs", "url", cfg.BaseURL+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
