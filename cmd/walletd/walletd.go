package walletd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/api/router"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/app"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/chain"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/config"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/crypto"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/storage"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/transport"
	"github.com/LotusiaStewardship/lotus-shared-wallet/internal/util"
	"github.com/dropbox/godropbox/time2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "walletd",
		Short: "Run the shared wallet daemon",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
}

func run() {
	cfg := config.DefaultServiceConfigFromEnv()

	zerolog.SetGlobalLevel(util.LogLevelFromString(cfg.Logger.Level))
	if cfg.Logger.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewBadgerStore(cfg.Node.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.Node.DataDir).Msg("Failed to open store")
	}

	params, err := crypto.NetworkParams(cfg.Node.Network)
	if err != nil {
		log.Fatal().Err(err).Str("network", cfg.Node.Network).Msg("Unknown network")
	}

	engine, err := crypto.NewMuSig2Engine(cfg.Node.IdentityKeyHex, params)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signing engine")
	}

	host, err := transport.NewHost(cfg.Transport.ListenAddrs, cfg.Node.IdentityKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create p2p host")
	}
	transport.ConnectBootstrapPeers(ctx, host, cfg.Transport.BootstrapPeers)

	tp, err := transport.NewGossipTransport(ctx, host, cfg.Transport.EnableLegacyTopics)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start gossip transport")
	}

	source := chain.NewIndexerClient(cfg.Chain.IndexerURL, cfg.Chain.RequestTimeout)

	svc, err := app.NewService(cfg, store, engine, tp, source, time2.DefaultClock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to assemble wallet service")
	}
	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start wallet service")
	}

	log.Info().
		Str("public_key", svc.PublicKeyHex()).
		Str("peer_id", host.ID().String()).
		Str("network", cfg.Node.Network).
		Msg("Wallet daemon started")

	var server *api.Server
	if cfg.Echo.Enable {
		server = api.NewServer(cfg, svc)
		router.Init(server)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Management API server stopped unexpectedly")
			}
		}()
		log.Info().Str("addr", cfg.Echo.ListenAddress).Msg("Management API listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down management API server")
		}
	}
	// Shutdown flushes the discovery cache before the store closes.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down wallet service cleanly")
	}
	if err := host.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close p2p host")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
}
