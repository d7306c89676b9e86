package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/fakeapi"
)

var (
	fakeapiAddr     string
	fakeapiLogLevel string
)

var fakeapiCmd = &cobra.Command{
	Use:   "fakeapi",
	Short: "Serve synthetic users locally",
	Long: `Serve GET /api/v1/users?_quantity=N with generated users, so the job can run
without reaching the public endpoint:

  etl fakeapi --addr :8089 &
  ETL_SOURCE_URL=http://localhost:8089/api/v1/users etl run`,
	Args: cobra.NoArgs,
	RunE: runFakeAPI,
}

func init() {
	rootCmd.AddCommand(fakeapiCmd)

	fakeapiCmd.Flags().StringVar(&fakeapiAddr, "addr", ":8089", "listen address")
	fakeapiCmd.Flags().StringVar(&fakeapiLogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func runFakeAPI(cmd *cobra.Command, _ []string) error {
	logger := logging.New(logging.ParseLevel(fakeapiLogLevel), "text").With(logging.Service("fakeapi"))

	srv := &http.Server{
		Addr:              fakeapiAddr,
		Handler:           fakeapi.NewHandler(logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Fake users API listening", "addr", fakeapiAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down fake users API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
