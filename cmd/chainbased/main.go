// Command chainbased runs a standalone chainbase engine behind a small
// line-oriented TCP protocol, generalizing the teacher's echo server
// into a real BEGIN/PUT/GET/DELETE/COMMIT/ROLLBACK/STATUS dispatcher
// over a demo KVEntry object type.
package main

import (
	"log/slog"
	"time"

	"chainbase"

	"chainbase/internal/config"
	"chainbase/internal/logger"
	"chainbase/internal/store"
)

func main() {
	config.Load()
	slog.SetDefault(logger.New())

	opts := []chainbase.EngineOption{
		chainbase.WithLogger(slog.Default()),
		chainbase.WithLockTimeout(time.Duration(config.Global.LockTimeoutMS) * time.Millisecond),
		chainbase.WithLockRetries(config.Global.LockRetries),
		chainbase.WithMaxUndoDepth(config.Global.MaxUndoDepth),
		chainbase.WithStrictLocking(config.Global.StrictLocking),
	}
	if config.Global.UsePersistentStore {
		ps, err := store.NewPebbleStore(config.Global.DataDir)
		if err != nil {
			slog.Error("failed to open pebble store", "error", err)
			panic(err)
		}
		opts = append(opts, chainbase.WithPersistentStore(ps))
	}

	engine, err := chainbase.Open(config.Global.DataDir, chainbase.ReadWrite, 0, opts...)
	if err != nil {
		slog.Error("failed to open engine", "error", err)
		panic(err)
	}
	defer engine.Close()

	if err := chainbase.Register[KVEntry](engine, kvEntryDescriptor()); err != nil {
		slog.Error("failed to register KVEntry", "error", err)
		panic(err)
	}

	runServer(engine)
}
