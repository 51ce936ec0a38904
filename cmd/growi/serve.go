package main

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the page tree and page files over the local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := startSession(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	httpServer := &stdhttp.Server{
		Addr:    rt.cfg.Addr(),
		Handler: rt.app.HTTPServer.Handler(),
	}

	rt.logger.WithFields(logrus.Fields{
		"addr": httpServer.Addr,
	}).Info("starting http server")

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return eris.Wrap(err, "http server error")
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		if ctx.Err() != nil {
			rt.logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownGrace)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "shutting down http server")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	rt.logger.Info("http server shut down cleanly")
	return nil
}
