package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"quote-dashboard/internal/api"
	"quote-dashboard/internal/briefagent"
	"quote-dashboard/internal/config"
	"quote-dashboard/internal/logger"
	"quote-dashboard/internal/market"
	"quote-dashboard/internal/store"
)

func main() {
	_ = godotenv.Load()

	defaultPath := config.DefaultPath
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		defaultPath = v
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	log := logger.GetLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.MaxAgeDays); err != nil {
		log.WithError(err).Fatal("logger config error")
	}

	st, err := store.Open(cfg.Store.Sqlite.Path)
	if err != nil {
		log.WithError(err).Fatal("store error")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Error("store close error")
		}
	}()

	var offline *market.OfflineDataset
	if cfg.Market.OfflineEnabled {
		offline = market.DefaultOfflineDataset()
		if cfg.Market.OfflineDataset != "" {
			offline, err = market.LoadOfflineDatasetFile(cfg.Market.OfflineDataset)
			if err != nil {
				log.WithError(err).Fatal("offline dataset error")
			}
		}
	}

	if offline != nil {
		log.WithFields(logger.Fields{"symbols": offline.Symbols()}).Info("offline dataset loaded")
	}

	opts := []market.ResolverOption{market.WithLogger(log)}
	if cfg.Market.RequestsPerSecond > 0 {
		opts = append(opts, market.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Market.RequestsPerSecond), max(cfg.Market.Burst, 1))))
	}
	resolver := market.NewResolver(market.ResolverConfig{
		Endpoints:      cfg.Market.Endpoints,
		Proxies:        cfg.Market.Proxies,
		Offline:        offline,
		AttemptTimeout: time.Duration(cfg.Market.AttemptTimeoutMs) * time.Millisecond,
		Concurrency:    cfg.Market.Concurrency,
		UserAgent:      cfg.Market.UserAgent,
	}, opts...)
	mktSvc := market.NewService(resolver, time.Duration(cfg.Market.MinRequestIntervalMs)*time.Millisecond)

	agent := briefagent.New(briefagent.Config{
		Enabled:    cfg.BriefAgent.Enabled,
		Model:      cfg.BriefAgent.Model,
		APIKey:     cfg.BriefAgent.APIKey,
		BaseURL:    cfg.BriefAgent.BaseURL,
		ByAzure:    cfg.BriefAgent.ByAzure,
		APIVersion: cfg.BriefAgent.APIVersion,
		TimeoutMs:  cfg.BriefAgent.TimeoutMs,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))

	api.RegisterRoutes(h, api.Deps{
		Quotes:         mktSvc,
		Preferences:    st,
		Brief:          agent,
		DefaultSymbols: cfg.Market.DefaultSymbols,
		InitialSymbols: cfg.Market.InitialSymbols,
		Log:            log,
	})

	log.WithFields(logger.Fields{
		"addr":      addr,
		"endpoints": len(cfg.Market.Endpoints),
		"proxies":   len(cfg.Market.Proxies),
		"offline":   offline != nil,
		"brief_llm": agent.Enabled(),
	}).Info("server starting")
	if err := h.Run(); err != nil {
		log.WithError(err).Fatal("server run error")
	}
}
