// Copyright 2024 The daosync Authors
// This file is part of daosync.
//
// daosync is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// daosync is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with daosync. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/genesis-dao/daosync/api"
	"github.com/genesis-dao/daosync/cache"
	"github.com/genesis-dao/daosync/chain"
	"github.com/genesis-dao/daosync/event"
	"github.com/genesis-dao/daosync/event/kafka"
	"github.com/genesis-dao/daosync/fetcher"
	"github.com/genesis-dao/daosync/log"
	"github.com/genesis-dao/daosync/metadata"
	"github.com/genesis-dao/daosync/params"
	"github.com/genesis-dao/daosync/storage"
)

const migrationLockTTL = 2 * time.Minute

var logger = log.NewModuleLogger(log.Cmd)

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file overlaying the environment",
}

func main() {
	app := cli.NewApp()
	app.Name = "daosync"
	app.Usage = "chain ingestion and projection service for genesis daos"
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		{
			Name:   "listen",
			Usage:  "run the block ingestor and the HTTP read API",
			Action: runListen,
			Flags:  []cli.Flag{configFlag},
		},
		{
			Name:   "metadata-worker",
			Usage:  "run the asynchronous metadata download worker",
			Action: runMetadataWorker,
			Flags:  []cli.Flag{configFlag},
		},
		{
			Name:   "challenge-daemon",
			Usage:  "rotate the signature challenge token",
			Action: runChallengeDaemon,
			Flags:  []cli.Flag{configFlag},
		},
		{
			Name:  "topics",
			Usage: "inspect and manage the broker topics",
			Subcommands: []cli.Command{
				{Name: "list", Usage: "list topics", Action: runTopicsList, Flags: []cli.Flag{configFlag}},
				{Name: "create", Usage: "create a topic", ArgsUsage: "<name>", Action: runTopicsCreate, Flags: []cli.Flag{configFlag}},
				{Name: "delete", Usage: "delete a topic", ArgsUsage: "<name>", Action: runTopicsDelete, Flags: []cli.Flag{configFlag}},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Crit("Fatal error", "err", err)
	}
}

// loadConfig builds the configuration from the environment plus an optional
// file and validates it. Invalid configuration never gets past startup.
func loadConfig(ctx *cli.Context) (*params.Config, error) {
	cfg, err := params.FromEnv()
	if err != nil {
		return nil, err
	}
	path := ctx.String(configFlag.Name)
	if path == "" {
		path = ctx.GlobalString(configFlag.Name)
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDatabase connects and migrates under the cross-process lock, so
// several replicas starting at once do not race the schema.
func openDatabase(cfg *params.Config, redis *cache.Client) (*storage.Database, error) {
	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	err = redis.WithLock("migration", migrationLockTTL, func() error {
		return db.Migrate()
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openBroker(cfg *params.Config) (event.Broker, error) {
	kafkaCfg := kafka.GetDefaultConfig()
	kafkaCfg.Brokers = cfg.KafkaBrokers
	return kafka.New(kafkaCfg)
}

func runListen(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	redis := cache.New(cfg.RedisURL)
	defer redis.Close()
	if err := redis.Ping(); err != nil {
		return err
	}

	db, err := openDatabase(cfg, redis)
	if err != nil {
		return err
	}
	defer db.Close()

	client := chain.NewClient(cfg.BlockchainURL)
	pipeline := fetcher.NewPipeline(client)
	ingestor := fetcher.New(client, db, pipeline, fetcher.Config{
		Interval:    cfg.BlockCreationInterval,
		RetryDelays: cfg.RetryDelays,
	})
	ingestor.SetNotifier(fetcher.NewConsoleNotifier())
	ingestor.SetPublisher(redis)

	if len(cfg.KafkaBrokers) > 0 {
		broker, err := openBroker(cfg)
		if err != nil {
			return err
		}
		defer broker.Close()
		ingestor.SetBroker(broker)
	} else {
		logger.Warn("No kafka brokers configured, metadata tasks are dropped")
	}

	server := api.NewServer(cfg.ListenAddr, db, redis)
	runCtx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	go func() { errCh <- ingestor.Run(runCtx) }()

	select {
	case err := <-errCh:
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		server.Shutdown(shutdownCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	case <-runCtx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return server.Shutdown(shutdownCtx)
	}
}

func runMetadataWorker(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	redis := cache.New(cfg.RedisURL)
	defer redis.Close()
	if err := redis.Ping(); err != nil {
		return err
	}

	db, err := openDatabase(cfg, redis)
	if err != nil {
		return err
	}
	defer db.Close()

	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	hasher, err := metadata.NewHasher(cfg.EncryptionAlgorithm)
	if err != nil {
		return err
	}

	runCtx, cancel := signalContext()
	defer cancel()

	worker := metadata.NewWorker(broker, db, hasher)
	if err := worker.Run(runCtx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runChallengeDaemon rotates the process-wide signature challenge at half
// its lifetime so it never expires between rotations.
func runChallengeDaemon(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	redis := cache.New(cfg.RedisURL)
	defer redis.Close()
	if err := redis.Ping(); err != nil {
		return err
	}

	runCtx, cancel := signalContext()
	defer cancel()

	interval := cfg.ChallengeLifetime / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rotate := func() {
		token, err := redis.RefreshGlobalChallenge(cfg.ChallengeLifetime)
		if err != nil {
			logger.Error("Cannot rotate challenge", "err", err)
			return
		}
		logger.Info("Challenge rotated", "token", token)
	}

	rotate()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			rotate()
		}
	}
}

func runTopicsList(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	topics, err := broker.ListTopics()
	if err != nil {
		return err
	}
	for _, topic := range topics {
		fmt.Println(topic.Name)
	}
	return nil
}

func runTopicsCreate(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return cli.NewExitError("topic name required", 1)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	if _, err := broker.CreateTopic(name); err != nil {
		return err
	}
	logger.Info("Topic created", "name", name)
	return nil
}

func runTopicsDelete(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return cli.NewExitError("topic name required", 1)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()

	if err := broker.DeleteTopic(name); err != nil {
		return err
	}
	logger.Info("Topic deleted", "name", name)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			logger.Info("Shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
