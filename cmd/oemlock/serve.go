package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kardianos/oemlock/channel"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/kardianos/oemlock/ta"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the trusted application over QUIC",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closer, err := openStore(cfg, storeServer)
		if err != nil {
			return err
		}
		defer closer.Close()

		identity, err := channel.LoadOrCreateIdentity(store, cfg.Identity)
		if err != nil {
			return err
		}
		allowed, err := parseFPs(cfg.AllowedClients)
		if err != nil {
			return err
		}

		reg := channel.NewRegistry()
		reg.Register(lockdef.AppID, ta.Factory(store, logger.With("component", "ta")))

		srv, err := channel.NewServer(channel.ServerOpt{
			Registry:       reg,
			Identity:       identity,
			AllowedClients: allowed,
			Logger:         logger.With("component", "server"),
		})
		if err != nil {
			return err
		}

		pc, err := net.ListenPacket("udp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}

		logger.Info("oemlock server starting",
			"listen", pc.LocalAddr().String(),
			"store", store.Path(),
			"fingerprint", channel.FingerprintOf(identity).String(),
			"allowed_clients", len(allowed),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Serve(gctx, pc)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			pc.Close()
			return nil
		})
		return g.Wait()
	},
}

func parseFPs(list []string) ([]channel.FP, error) {
	fps := make([]channel.FP, 0, len(list))
	for _, s := range list {
		fp, err := channel.ParseFP(s)
		if err != nil {
			return nil, fmt.Errorf("allowed client %q: %w", s, err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}
