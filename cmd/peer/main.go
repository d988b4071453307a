// Command peer runs a single CPoS peer: it loads configuration and an
// Ed25519 identity, launches pkg/peer.Server, and serves until interrupted,
// the way cmd/node's main wires an Engine and runs it to completion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cposnet/peer/params"
	"github.com/cposnet/peer/pkg/peer"
	"github.com/cposnet/peer/pkg/sig"
	"github.com/cposnet/peer/pkg/util"
	"github.com/cposnet/peer/pkg/vm"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/peer.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	kp, err := sig.LoadKeyPairFile(cfg.KeypairPath)
	if err != nil {
		sugar.Infow("keypair_not_found_generating", "path", cfg.KeypairPath)
		kp, err = sig.GenerateKeyPair()
		if err != nil {
			sugar.Fatalw("keypair_generate_failed", "err", err)
		}
		if err := kp.WriteKeyPairFile(cfg.KeypairPath); err != nil {
			sugar.Fatalw("keypair_write_failed", "err", err)
		}
	}
	sugar.Infow("peer_identity", "public_key", kp.PublicKeyHex())

	if cfg.VerboseLogging {
		sugar.Info("verbose logging enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine := vm.NewEchoVM(1, 0)
	srv, err := peer.Launch(ctx, cfg, kp, machine, sugar)
	if err != nil {
		sugar.Fatalw("launch_failed", "err", err)
	}

	sugar.Infow("peer_running", "listen_addr", cfg.ListenAddr, "store", cfg.StorePath)

	<-ctx.Done()
	sugar.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown_failed", "err", err)
		os.Exit(1)
	}
	sugar.Info("shutdown_complete")
}
