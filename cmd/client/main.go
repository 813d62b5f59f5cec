package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/aochat/internal/catalog"
	"github.com/blukai/aochat/internal/charset"
	"github.com/blukai/aochat/internal/chatclient"
	"github.com/blukai/aochat/internal/config"
	"github.com/blukai/aochat/internal/metrics"
	"github.com/blukai/aochat/internal/protocol"
	"github.com/hashicorp/go-multierror"
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

// openCatalog chains the optional YAML overrides in front of the game's
// message database. Either may be missing.
func openCatalog(cfg config.Config, logger *log.Logger) (catalog.Chain, *catalog.MMDB) {
	var chain catalog.Chain

	if cfg.CatalogOverridePath != "" {
		overrides, err := catalog.LoadYAMLFile(cfg.CatalogOverridePath)
		if err != nil {
			logger.Warn().Msgf("could not load catalog overrides: %v", err)
		} else {
			chain = append(chain, overrides)
		}
	}

	mmdb, err := catalog.OpenMMDB(cfg.CatalogPath)
	if err != nil {
		logger.Warn().Msgf("extended messages will not be rendered: %v", err)
		return chain, nil
	}
	return append(chain, mmdb), mmdb
}

// logPacket is the dispatcher: it prints what the character sees.
func logPacket(client *chatclient.Client, logger *log.Logger) chatclient.DispatcherFunc {
	name := func(id uint32) string {
		if n, ok := client.UserName(id); ok {
			return n
		}
		return fmt.Sprint(id)
	}

	return func(p *protocol.Packet) {
		switch p.Type {
		case protocol.TypeMsgPrivate:
			logger.Info().
				Str("from", name(p.ArgInt(0))).
				Msg(charset.Decode(p.ArgStr(1)))
		case protocol.TypeGroupMessage:
			gid, _ := p.ArgGroup(0)
			group, _ := client.ResolveGroupName(string(gid[:]))
			logger.Info().
				Str("channel", group).
				Str("from", name(p.ArgInt(1))).
				Msg(charset.Decode(p.ArgStr(2)))
		case protocol.TypePrivgrpMessage:
			logger.Info().
				Str("private", name(p.ArgInt(0))).
				Str("from", name(p.ArgInt(1))).
				Msg(charset.Decode(p.ArgStr(2)))
		case protocol.TypeChatNotice:
			if len(p.Args) > 4 {
				logger.Info().Msg(charset.Decode(p.ArgStr(len(p.Args) - 1)))
			}
		case protocol.TypeMsgSystem:
			logger.Info().Msg(charset.Decode(p.ArgStr(0)))
		case protocol.TypeGroupAnnounce:
			logger.Debug().
				Str("channel", p.ArgStr(1)).
				Uint32("status", p.ArgInt(2)).
				Msg("channel announced")
		case protocol.TypePrivgrpInvite:
			logger.Info().
				Str("from", name(p.ArgInt(0))).
				Msg("private channel invite")
		default:
			logger.Debug().
				Str("packet", p.Name()).
				Msg("unhandled packet")
		}
	}
}

func erringMain() (err error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(cfg.Level())

	textCatalog, mmdb := openCatalog(cfg, logger)
	if mmdb != nil {
		defer func() {
			if closeErr := mmdb.Close(); closeErr != nil {
				err = multierror.Append(err, closeErr)
			}
		}()
	}

	opts := chatclient.DefaultOptions()
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.FloodLimit = cfg.FloodLimit
	opts.FloodIncrement = cfg.FloodIncrement
	opts.PingTag = cfg.PingTag
	opts.Catalog = textCatalog
	if cfg.ServerKey != "" {
		opts.Params.Y = cfg.ServerKey
		if opts.Params, err = opts.Params.Canonical(); err != nil {
			return fmt.Errorf("could not use server key: %w", err)
		}
	}
	if cfg.MetricsAddr != "" {
		opts.Metrics = metrics.New()
	}

	client := chatclient.New(opts, logger)
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := client.Connect(ctx, cfg.ServerAddr); err != nil {
		return err
	}
	chars, err := client.Authenticate(cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("could not authenticate: %w", err)
	}
	for _, char := range chars {
		logger.Debug().
			Str("name", char.Name).
			Uint32("id", char.ID).
			Int("level", char.Level).
			Bool("online", char.Online).
			Msg("character")
	}
	if err := client.Login(cfg.Character); err != nil {
		return fmt.Errorf("could not login: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if opts.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", opts.Metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info().Msgf("serving metrics on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		err := client.Run(gctx, logPacket(client, logger))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
