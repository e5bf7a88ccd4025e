/*
Copyright (C) 2026  bookie contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command bookie starts one storage node.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"

	"github.com/bookienode/bookie/internal/adminapi"
	"github.com/bookienode/bookie/internal/bookie"
	"github.com/bookienode/bookie/internal/conf"
	"github.com/bookienode/bookie/internal/coordinator"
	"github.com/bookienode/bookie/internal/ledgerstore"
)

func main() {
	configPath := flag.String("config", "bookie.json", "path to the bookie configuration file")
	addr := flag.String("addr", "", "address this bookie advertises to clients and the coordinator")
	adminAddr := flag.String("adminAddr", "", "address to serve the bookieshell admin API on (empty disables it)")
	flag.Parse()

	logger := log.New(os.Stdout, "bookie: ", log.LstdFlags|log.Lmicroseconds)

	fmt.Println("bookie storage node")

	watcher, err := conf.NewWatcher(*configPath, logger)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	defer watcher.Close()
	cfg := watcher.Current()

	storage, err := ledgerstore.NewFileStorage(cfg.LedgerDirs[0])
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	coord, err := newCoordinator(cfg)
	if err != nil {
		logger.Fatalf("coordinator: %v", err)
	}

	b, err := bookie.New(bookie.Deps{
		Config:      cfg,
		Logger:      logger,
		Storage:     storage,
		Coordinator: coord,
		Addr:        *addr,
	})
	if err != nil {
		logger.Fatalf("bookie: assemble: %v", err)
	}

	// Safety net only: the primary shutdown path is the explicit ordering
	// in Shutdown() below, triggered by the signal handler. This mirrors
	// storage/settings.go's onexit.Register call in the teacher — belt and
	// suspenders in case a signal is missed (spec "graceful shutdown hook").
	onexit.Register(func() {
		_ = b.Shutdown()
	})

	if err := b.Start(); err != nil {
		logger.Fatalf("bookie: start: %v", err)
	}
	logger.Printf("bookie %s started in mode %s", cfg.BookieID, b.Mode())

	if *adminAddr != "" {
		admin := adminapi.New(b)
		srv := &http.Server{Addr: *adminAddr, Handler: admin.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("bookie: admin server: %v", err)
			}
		}()
		defer srv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Println("bookie: shutdown signal received, draining")
	shutdownStart := time.Now()
	if err := b.Shutdown(); err != nil {
		logger.Printf("bookie: shutdown error: %v", err)
	}
	logger.Printf("bookie: shutdown complete in %s", time.Since(shutdownStart))
}

func newCoordinator(cfg *conf.Config) (coordinator.Coordinator, error) {
	switch cfg.CoordinatorKind {
	case "", "ws":
		return coordinator.NewWSCoordinator(cfg.CoordinatorAddr, cfg.CoordinatorRoot), nil
	case "postgres":
		return coordinator.OpenSQLCoordinator("postgres", cfg.CoordinatorAddr, coordinator.DialectPostgres, 30*time.Second)
	case "mysql":
		return coordinator.OpenSQLCoordinator("mysql", cfg.CoordinatorAddr, coordinator.DialectMySQL, 30*time.Second)
	default:
		return nil, fmt.Errorf("cmd/bookie: unknown coordinatorKind %q", cfg.CoordinatorKind)
	}
}
