// The syncserver binary serves the bill sharing APIs and the device sync
// relay on one listener.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tabsplit/billsync/api/keyapi"
	"github.com/tabsplit/billsync/api/shareapi"
	"github.com/tabsplit/billsync/cmd/flags"
	"github.com/tabsplit/billsync/httpserver"
	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/kvstore"
	"github.com/tabsplit/billsync/onetime"
	"github.com/tabsplit/billsync/relay"
	"github.com/tabsplit/billsync/sharesession"
)

func main() {
	app := &cli.App{
		Name:   "syncserver",
		Usage:  "Serve the bill sharing and device sync APIs",
		Flags:  flags.ServerFlags,
		Action: runServer,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	uris := cCtx.StringSlice(flags.KVBackendFlag.Name)
	locations := make([]interfaces.KVStoreLocation, 0, len(uris))
	for _, uri := range uris {
		locations = append(locations, interfaces.KVStoreLocation(uri))
	}

	factory := kvstore.NewFactory(logger)
	store, err := factory.CreateShardedStore(locations)
	if err != nil {
		return fmt.Errorf("failed to set up KV backends: %w", err)
	}
	logger.Info("KV storage configured", "backends", len(locations))

	srv, err := httpserver.New(
		flags.ConfigureServer(cCtx, logger),
		keyapi.NewHandler(onetime.NewService(store, logger), logger),
		shareapi.NewHandler(sharesession.NewService(store, logger), logger),
		relay.NewHandler(relay.NewPairingRegistry(), logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}
