package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"candlefeed/service"
	"github.com/rs/zerolog"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		os.Exit(1)
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	exchange, _ := cfg.ParsedExchange()
	markets, _ := cfg.ParsedMarkets()
	intervals, _ := cfg.ParsedIntervals()
	periods, _ := cfg.ParsedPeriods()

	network := service.NetworkMainnet
	if cfg.ExchangeNetwork == "test" {
		network = service.NetworkTestnet
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedCfg := service.CandleFeedConfig{
		Network:            network,
		Markets:            markets,
		Exchange:           exchange,
		Intervals:          intervals,
		IndicatorPeriods:   periods,
		SoftResetThreshold: time.Duration(cfg.ResetTimeThreshold) * time.Second,
		HardResetThreshold: time.Duration(cfg.HardResetTimeThreshold) * time.Second,
		RestartThreshold:   time.Duration(cfg.RestartTimeThreshold) * time.Second,
		RedisAddr:          cfg.RedisAddr,
		ListenAddr:         cfg.APIListen,
		Cancel:             cancel,
	}
	feed, err := service.NewCandleFeed(&feedCfg)
	if err != nil {
		log.Printf("creating candle feed service: %v", err)
		os.Exit(2)
	}

	go handleTermination(ctx, cancel)
	feed.Run(ctx)
}
