// Command farmd is the process entrypoint: it loads configuration, wires
// up the stores and the fleet, and serves the HTTP control surface, in a
// env-load -> logger-init -> background-init -> HTTP-serve sequence.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/bot"
	"github.com/steamfleet/farmhand/internal/config"
	"github.com/steamfleet/farmhand/internal/httpapi"
	"github.com/steamfleet/farmhand/internal/logging"
	"github.com/steamfleet/farmhand/internal/platform"
	"github.com/steamfleet/farmhand/internal/ratelimit"
	"github.com/steamfleet/farmhand/internal/store"
	"github.com/steamfleet/farmhand/internal/supervisor"
)

// giftLimiterDelay is the gift-accept gate's post-acquire cooldown.
// Unlike the login gate this has no natural config knob, so it is a
// fixed, conservative constant.
const giftLimiterDelay = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stderr.WriteString("no .env file loaded: " + err.Error() + "\n")
	}

	log, closer, err := logging.New(logging.Config{
		Dir:         config.EnvOrDefault("LOG_DIR", "logs"),
		Detailed:    config.EnvOrDefault("LOG_DETAILED", "false") == "true",
		Development: config.EnvOrDefault("LOG_DEV", "false") == "true",
	})
	if err != nil {
		panic(err)
	}
	defer closer.Close()
	defer log.Sync()

	log.Info("starting farmhand")

	global, err := config.LoadGlobalConfig(config.EnvOrDefault("GLOBAL_CONFIG", "configs/global.json"))
	if err != nil {
		log.Fatal("load global config", zap.Error(err))
	}

	botConfigs, err := config.LoadAllBotConfigs(config.EnvOrDefault("CONFIG_DIR", "configs"))
	if err != nil {
		log.Fatal("load bot configs", zap.Error(err))
	}

	dbDir := config.EnvOrDefault("DB_DIR", "data")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		log.Fatal("create database directory", zap.Error(err))
	}

	ledger := openLedger(log)
	if ledger != nil {
		defer ledger.Close()
	}

	globalDB, err := store.OpenGlobalDatabase(filepath.Join(dbDir, "global.json"))
	if err != nil {
		log.Fatal("open global database", zap.Error(err))
	}

	loginLimiter := ratelimit.New(global.LoginCooldown)
	giftLimiter := ratelimit.New(giftLimiterDelay)

	ownerID := parseUint64(os.Getenv("OWNER_ID"))
	baseURL := config.EnvOrDefault("STEAM_COMMUNITY_BASE_URL", "https://steamcommunity.com")

	sup := supervisor.New(log)

	var startOnLaunch []*bot.Bot
	for name, cfg := range botConfigs {
		if !cfg.Enabled {
			log.Info("skipping disabled account", zap.String("bot", name))
			continue
		}

		botDB, err := store.OpenBotDatabase(filepath.Join(dbDir, name+".json"))
		if err != nil {
			log.Error("open bot database, skipping account", zap.String("bot", name), zap.Error(err))
			continue
		}

		botLog := logging.ForBot(log, name)
		client := platform.NewSteamClient(baseURL, name, botLog)
		b := bot.New(name, cfg, global, ownerID, client, botDB, globalDB, ledger, loginLimiter, giftLimiter, botLog)
		sup.Add(name, b)

		if cfg.StartOnLaunch {
			startOnLaunch = append(startOnLaunch, b)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, b := range startOnLaunch {
		b.Start(ctx)
	}
	go sup.Monitor(ctx)

	srv := httpapi.New(sup, log)
	httpServer := &http.Server{
		Addr:    ":" + config.EnvOrDefault("PORT", "3000"),
		Handler: srv.Handler(),
	}
	go func() {
		log.Info("http control surface listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info("received shutdown signal")
	case <-sup.WaitForExit():
		log.Info("exit requested by operator")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	cancel()
	sup.Shutdown()
	log.Info("farmhand stopped")
}

// openLedger attempts a connection, and on failure (or when DB_PASSWORD
// is simply unset) continues without one rather than refusing to start.
func openLedger(log *zap.Logger) *store.Ledger {
	if os.Getenv("DB_PASSWORD") == "" {
		log.Info("DB_PASSWORD not set, continuing without the drop ledger")
		return nil
	}

	ledger, err := store.OpenLedger(
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
	)
	if err != nil {
		log.Warn("failed to open drop ledger, continuing without it", zap.Error(err))
		return nil
	}
	return ledger
}

func parseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
