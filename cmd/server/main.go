package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blukai/aochat/internal/chatserver"
	"github.com/blukai/aochat/internal/config"
	"github.com/blukai/aochat/internal/handshake"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

func configureLogger(level log.Level) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = level
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func serverOptions(cfg config.ServerConfig) (chatserver.Options, error) {
	opts := chatserver.DefaultOptions()
	if cfg.Secret != "" {
		params, err := handshake.DefaultParams().WithSecret(cfg.Secret)
		if err != nil {
			return opts, fmt.Errorf("could not use secret: %w", err)
		}
		opts.Params = params
		opts.Secret = cfg.Secret
	}

	opts.Accounts = []chatserver.Account{{
		Username:   cfg.Username,
		Password:   cfg.Password,
		Characters: cfg.Characters,
	}}
	for _, name := range cfg.Groups {
		opts.Groups = append(opts.Groups, chatserver.Group{
			ID:   chatserver.NewGroupID(chatserver.GroupTypePublic, name),
			Name: name,
		})
	}

	return opts, nil
}

func erringMain() error {
	cfg, err := config.ServerFromEnv()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(cfg.Level())

	opts, err := serverOptions(cfg)
	if err != nil {
		return err
	}

	chatServer, err := chatserver.NewServer("tcp", cfg.ListenAddr, opts, logger)
	if err != nil {
		return fmt.Errorf("could not construct chat server: %w", err)
	}
	logger.Info().
		Str("server_key", opts.Params.Y).
		Msgf("started chat server on %s", chatServer.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := chatServer.Run(gctx); err != nil {
			return fmt.Errorf("chat server run failed: %w", err)
		}
		return nil
	})

	<-gctx.Done()
	logger.Info().Msg("shutting down")

	return g.Wait()
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
