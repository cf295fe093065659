package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spooky-finn/go-streambridge/config"
	"github.com/spooky-finn/go-streambridge/hub"
	promclient "github.com/spooky-finn/go-streambridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-streambridge/logger"
	"github.com/spooky-finn/go-streambridge/provider/binance"
	"github.com/spooky-finn/go-streambridge/provider/kucoin"
	"github.com/spooky-finn/go-streambridge/subscription"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithComponent("main").Fatalf("failed to load config: %v", err)
	}

	logger.Setup(cfg.Logging)
	log := logger.WithComponent("main")

	feed := subscription.NewFeed(cfg.Feed.BufferSize)

	var managers []*subscription.Manager
	for _, provider := range cfg.Providers {
		switch provider {
		case "binance":
			managers = append(managers, subscription.NewManager(
				binance.NewAdapter(), binance.NewSyncAPI(), feed, cfg.Transport, cfg.Emulation))
		case "kucoin":
			syncAPI := kucoin.NewSyncAPI()
			managers = append(managers, subscription.NewManager(
				kucoin.NewAdapter(syncAPI), syncAPI, feed, cfg.Transport, cfg.Emulation))
		default:
			log.Fatalf("unknown provider %q in config", provider)
		}
	}

	bridge := hub.New(managers, feed)
	defer bridge.Close()

	if cfg.Metrics.Enabled {
		go promclient.StartPromClientServer(cfg.Metrics.Addr)
	}

	log.Infof("stream bridge is up, providers: %v", cfg.Providers)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}
