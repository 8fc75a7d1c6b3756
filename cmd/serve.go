package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kernel/boardcol/pkg/dispatch"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// ServeCmd exposes the dispatch commands over HTTP.
type ServeCmd struct {
	handler http.Handler
	logger  *pterm.Logger
}

type ServeInput struct {
	Addr string
	// Ready, if set, receives the bound address once the listener is open.
	Ready func(addr string)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s ServeCmd) Run(ctx context.Context, in ServeInput) error {
	ln, err := net.Listen("tcp", in.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := ln.Addr().String()
	s.logger.Info("listening", s.logger.Args("addr", addr))
	if in.Ready != nil {
		in.Ready(addr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// --- Cobra wiring ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command API on a local address",
	Long: `Serve getClientMapping, clearCache, saveApiCredentials and testApi over HTTP.

  POST /v1/commands            {"action": "getClientMapping"}
  POST /v1/commands/{action}   optional JSON body with apiKey and apiToken
  GET  /v1/mapping
  GET  /healthz`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from BOARDCOL_LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := getDeps(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = d.cfg.ListenAddr
	}

	router := dispatch.NewRouter(dispatch.New(d.svc, d.client, d.logger))
	s := ServeCmd{handler: router, logger: d.logger}
	return s.Run(cmd.Context(), ServeInput{
		Addr: addr,
		Ready: func(addr string) {
			pterm.Success.Printf("boardcol %s serving on http://%s\n", metadata.Version, addr)
		},
	})
}
