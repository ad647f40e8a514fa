// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/quinta-fleet/tirewatch/internal/bootstrap"
	"github.com/quinta-fleet/tirewatch/internal/bus"
	"github.com/quinta-fleet/tirewatch/internal/catalog"
	"github.com/quinta-fleet/tirewatch/internal/config"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
	"github.com/quinta-fleet/tirewatch/internal/handlers"
	"github.com/quinta-fleet/tirewatch/internal/httpapi"
	"github.com/quinta-fleet/tirewatch/internal/hub"
	"github.com/quinta-fleet/tirewatch/internal/position"
	"github.com/quinta-fleet/tirewatch/internal/store"
	"github.com/quinta-fleet/tirewatch/internal/tireapi"
)

func main() {
	var flagLogLevel string
	var flagInitIndexes bool
	flag.StringVar(&flagLogLevel, "log-level", "info", "log level: err, warn, info or debug")
	flag.BoolVar(&flagInitIndexes, "init-indexes", true, "create MongoDB indexes on startup")
	flag.Parse()

	fleetlog.SetLevel(flagLogLevel)

	cfg, err := config.Load()
	if err != nil {
		fleetlog.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.Connect(cfg.MySQLURI)
	if err != nil {
		fleetlog.Fatalf("connecting to catalog: %s", err.Error())
	}
	defer cat.Close()

	st, err := store.Connect(ctx, cfg.MongoURI)
	if err != nil {
		fleetlog.Fatalf("connecting to store: %s", err.Error())
	}
	defer st.Close(context.Background())

	if flagInitIndexes {
		if err := st.CreateIndexes(ctx); err != nil {
			fleetlog.Errorf("creating indexes: %s", err.Error())
		}
	}

	tireClient := tireapi.New(cfg.SmartTyre.BaseURL, cfg.SmartTyre.ClientID, cfg.SmartTyre.ClientSecret, cfg.SmartTyre.SignKey)

	resolver := position.NewResolver(cat)
	vehicleRouter := fleetlog.NewVehicleRouter(4096)

	h := hub.New(cat)

	msgHandlers := handlers.New(cat, tireClient, st, resolver, h, vehicleRouter)

	bootstrapSvc := bootstrap.New(st, h, cat)

	router := httpapi.NewRouter(h, bootstrapSvc, msgHandlers)

	var wg sync.WaitGroup

	consumer, err := bus.New(bus.Config{
		Brokers:              splitCommaList(cfg.Kafka.Servers),
		GroupID:              cfg.Kafka.GroupID,
		Security:             cfg.Kafka.Security,
		Mechanism:            cfg.Kafka.Mechanism,
		Username:             cfg.Kafka.Username,
		Password:             cfg.Kafka.Password,
		AutoOffsetReset:      cfg.Kafka.AutoOffsetReset,
		EnableAutoCommit:     cfg.Kafka.EnableAutoCommit,
		AutoCommitIntervalMS: cfg.Kafka.AutoCommitIntervalMS,
		SessionTimeoutMS:     cfg.Kafka.SessionTimeoutMS,
		RequestTimeoutMS:     cfg.Kafka.RequestTimeoutMS,
	}, msgHandlers)
	if err != nil {
		fleetlog.Fatalf("creating kafka consumer: %s", err.Error())
	}
	defer consumer.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			fleetlog.Errorf("kafka consumer stopped: %s", err.Error())
		}
	}()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		fleetlog.Fatalf("creating scheduler: %s", err.Error())
	}
	if _, err := scheduler.NewJob(gocron.DurationJob(60*time.Second), gocron.NewTask(func() {
		evicted := msgHandlers.SweepEnrichmentCache()
		fleetlog.Debugf("enrichment cache sweep: %d entries evicted", evicted)
	})); err != nil {
		fleetlog.Errorf("scheduling enrichment cache sweep: %s", err.Error())
	}
	if _, err := scheduler.NewJob(gocron.DurationJob(5*time.Minute), gocron.NewTask(func() {
		evicted := h.SweepPlateCache()
		fleetlog.Debugf("plate cache sweep: %d entries evicted", evicted)
	})); err != nil {
		fleetlog.Errorf("scheduling plate cache sweep: %s", err.Error())
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		fleetlog.Fatalf("listening on %s: %s", cfg.HTTPAddr, err.Error())
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		fleetlog.Infof("http server listening at %s", cfg.HTTPAddr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fleetlog.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	fleetlog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fleetlog.Errorf("http server shutdown: %s", err.Error())
	}

	wg.Wait()
	fleetlog.Info("graceful shutdown completed")
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
