package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/space-symphony/authclient"
	"github.com/jrsteele09/space-symphony/browser"
	"github.com/jrsteele09/space-symphony/console"
	"github.com/jrsteele09/space-symphony/credentials"
	"github.com/jrsteele09/space-symphony/credentials/filestore"
	"github.com/jrsteele09/space-symphony/credentials/sqlitestore"
	"github.com/jrsteele09/space-symphony/flow"
	"github.com/jrsteele09/space-symphony/internal/config"
	"github.com/jrsteele09/space-symphony/session"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Space Symphony stopped with an error")
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(c.GetLogLevel())
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := authclient.NewFromConfig(ctx, c)
	if err != nil {
		return fmt.Errorf("authclient.NewFromConfig: %w", err)
	}

	coordinator, err := flow.New(
		flow.Dependencies{Client: client, Store: store, Launcher: browser.System{}},
		flow.Settings{
			AppID:           c.GetAppID(),
			CallbackAddr:    c.GetCallbackAddr(),
			CallbackPath:    c.GetCallbackPath(),
			CallbackTimeout: c.GetCallbackTimeout(),
		},
	)
	if err != nil {
		return fmt.Errorf("flow.New: %w", err)
	}
	defer coordinator.Shutdown()

	app := console.New(c.GetAppName(), coordinator, session.NewReader(store, c.GetAppID()),
		os.Stdin, os.Stdout, console.WithColour(isatty.IsTerminal(os.Stdout.Fd())))
	return app.Run(ctx)
}

func openStore(ctx context.Context, c config.Config) (credentials.Store, func(), error) {
	switch c.GetStoreBackend() {
	case config.SQLiteStore:
		dir := filepath.Join(c.GetDataDir(), c.GetAppID())
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := sqlitestore.Open(ctx, filepath.Join(dir, "credentials.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore.Open: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Err(err).Msg("Closing credential database")
			}
		}, nil
	default:
		return filestore.New(c.GetDataDir()), func() {}, nil
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
