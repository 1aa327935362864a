// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Command beetle is the server entry point (spec §6 "CLI surface"): it
// launches the server, optionally loading settings from a config file
// named as the sole positional argument.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dc0d/onexit"
	"github.com/launix-de/go-mysqlstack/xlog"

	"github.com/prxssh/beetle/internal/archive"
	"github.com/prxssh/beetle/internal/command"
	"github.com/prxssh/beetle/internal/config"
	"github.com/prxssh/beetle/internal/server"
	"github.com/prxssh/beetle/internal/shard"
)

func main() {
	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "beetle: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := xlog.NewStdLog(levelFor(cfg.LogLevel))

	backend := archiveBackendFor(cfg)
	engine, err := shard.OpenWithArchive(cfg.StorageDirectory, cfg.DatabaseShards, cfg.LogFileSize, cfg.MergeInterval, cfg.LogRotationInterval, log, backend)
	if err != nil {
		log.Fatal("beetle: open storage engine: %v", err)
	}

	dispatcher := command.New(engine)

	acceptor, err := server.Listen(cfg.Port, log)
	if err != nil {
		engine.Close()
		log.Fatal("beetle: listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Graceful shutdown order (spec §5): stop accepting -> close active
	// connections -> flush each shard -> persist hints -> close file
	// handles. Registered once so the same path runs whether the
	// process exits via signal or a direct os.Exit, matching the
	// teacher's onexit.Register convention (storage/settings.go).
	onexit.Register(func() {
		cancel()
		if err := engine.Close(); err != nil {
			log.Warning("beetle: shutdown: %v", err)
		}
	})

	log.Info("beetle: listening on port %d with %d shards", cfg.Port, cfg.DatabaseShards)
	acceptor.Serve(ctx, dispatcher)
}

// archiveBackendFor builds the optional hints-archival backend named
// by cfg.ArchiveBackend (SPEC_FULL "SUPPLEMENTED FEATURES" item 1).
// The Ceph backend only exists when the binary was built with the
// "ceph" build tag (internal/archive/ceph.go); requesting it otherwise
// falls back to NoopBackend without logging anything.
func archiveBackendFor(cfg config.Config) archive.Backend {
	switch cfg.ArchiveBackend {
	case "s3":
		return archive.NewS3Backend(archive.S3Config{
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Bucket:   cfg.ArchiveBucket,
			Prefix:   cfg.ArchivePrefix,
		})
	case "ceph":
		return newCephBackendOrNoop(cfg)
	default:
		return archive.NoopBackend{}
	}
}

func levelFor(s string) xlog.Level {
	switch s {
	case "error":
		return xlog.Level(xlog.ERROR)
	case "warning":
		return xlog.Level(xlog.WARNING)
	default:
		return xlog.Level(xlog.INFO)
	}
}
