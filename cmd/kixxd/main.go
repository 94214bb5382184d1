// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command kixxd wires the routing engine, datastore, and HTTP
// transport into a running server. A full process launcher and CLI are
// intentionally not built here; this is the minimal glue a real
// deployment would still need to write itself.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kixx-framework/kixx"
	"github.com/kixx-framework/kixx/datastore"
	"github.com/kixx-framework/kixx/events"
	"github.com/kixx-framework/kixx/plugins"
	"github.com/kixx-framework/kixx/routesconfig"
	"github.com/kixx-framework/kixx/transport"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", transport.DefaultAddr, "listen address")
	vhostsConfig := flag.String("vhosts", "vhosts.json", "path to the virtual-hosts configuration document")
	appRoutesDir := flag.String("app-routes", "routes", "directory app:// route URNs resolve against")
	dataDir := flag.String("data-dir", "data", "datastore document directory")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	bus := events.NewBus()
	bus.On("server-error", func(e events.Event) {
		log.Error("server error", zap.Any("data", e.Data))
	})
	bus.On("request-handler-error", func(e events.Event) {
		log.Error("request handler error", zap.Any("data", e.Data))
	})

	registry := kixx.NewRegistry()
	plugins.RegisterBuiltins(registry)

	store := datastore.NewEngine(*dataDir, log.Named("datastore"))
	if err := store.Load(); err != nil {
		log.Fatal("failed to load datastore", zap.Error(err))
	}

	router := kixx.NewRouter(log.Named("router"))
	loader := routesconfig.NewLoader(*appRoutesDir, log.Named("config"))

	dispatcher := kixx.NewDispatcher(router, log.Named("dispatcher"), bus)
	dispatcher.Reload = func() error {
		vhosts, err := loader.LoadAndCompile(*vhostsConfig, registry)
		if err != nil {
			return err
		}
		router.ResetVirtualHosts(vhosts)
		return nil
	}

	server := transport.NewServer(dispatcher, log.Named("transport"), bus)
	server.Addr = *addr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}
}
