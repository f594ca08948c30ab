package cli

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

	"github.com/ppiankov/callguard/internal/httpapi"
	"github.com/ppiankov/callguard/internal/server"
)

var (
	serveHTTPAddr string
	serveGRPCAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (default listen.http from config)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address (default listen.grpc from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP and gRPC guard servers",
	Long: "Runs callguard as a central authorization server. Agents call\n" +
		"POST /v1/evaluate or the callguard.v1.Guard gRPC service.\n" +
		"The policy file is hot-reloaded on change.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	httpAddr := firstNonEmpty(serveHTTPAddr, runtimeCfg.Listen.HTTP)
	grpcAddr := firstNonEmpty(serveGRPCAddr, runtimeCfg.Listen.GRPC)

	grpcSrv := server.New(e, server.Config{Addr: grpcAddr}, logger)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           httpapi.NewRouter(e, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	reloader, err := server.NewReloader(grpcSrv, []string{e.PolicyPath()}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("hot-reload disabled")
	} else {
		go reloader.Run(ctx)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- grpcSrv.Serve() }()
	go func() {
		logger.Info().Str("addr", httpAddr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nShutting down guard server...")
	case err = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
