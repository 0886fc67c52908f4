package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/database"
	"roomsync/internal/device"
	"roomsync/internal/events"
	"roomsync/internal/identity"
	"roomsync/internal/library"
	"roomsync/internal/logging"
	"roomsync/internal/metadata"
	"roomsync/internal/ngrok"
	"roomsync/internal/player"
	"roomsync/internal/server"
	"roomsync/internal/session"
	"roomsync/internal/store"
	"roomsync/internal/syncerr"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	create := flag.Bool("create", false, "create a room on start-up and print its code")
	join := flag.String("join", "", "join the room with this code on start-up")
	watch := flag.String("watch", "", "broadcast edits of this local list to the room")
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a control API token and exit")
	flag.Parse()

	if *hashToken != "" {
		hash, err := server.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *create && *join != "" {
		logger.Fatal("-create and -join are mutually exclusive")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	configured, logFile, err := logging.New(cfg.Logging)
	if err != nil {
		logger.WithError(err).Fatal("Error configuring logging")
	}
	defer logFile.Close()
	logger = configured

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error opening remote store")
	}
	defer remote.Close()

	bus := events.NewBus(logger)

	db, err := database.NewDatabase(cfg.Database.Path, bus, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer db.Close()

	localPlayer := player.NewStateManager(bus, db)

	sess := session.NewManager(session.Deps{
		Store:  remote,
		Auth:   identity.NewFileAuthenticator(cfg.Identity.Path, logger),
		Namer:  device.NewNamer(cfg.Device.Name, nil),
		Player: localPlayer,
		Lists:  db,
		Bus:    bus,
		Retrier: syncerr.Retrier{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.RetryInitialDelay(),
			OnRetry: func(attempt int, delay time.Duration, err error) {
				logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"delay":   delay.String(),
				}).WithError(err).Warn("Connection attempt failed, retrying")
			},
		},
		Logger:           logger,
		ThrottleWait:     cfg.ThrottleWait(),
		PlaylistCooldown: cfg.PlaylistCooldown(),
	})
	defer sess.Close()

	if cfg.Library.Path != "" {
		lib := library.New(cfg.Library.Path, cfg.Library.ListID, db,
			metadata.NewExtractor(cfg.Library.SupportedFormats, logger),
			library.Options{Workers: cfg.Library.Workers}, nil, logger)
		if cfg.Library.ScanOnStartup {
			count, err := lib.Scan(ctx)
			if err != nil {
				logger.WithError(err).Fatal("Error scanning music library")
			}
			if count == 0 {
				logger.WithField("supported_formats", cfg.Library.SupportedFormats).Warn("No supported audio files found in music directory")
			}
		}
		if cfg.Library.WatchForChanges {
			if err := lib.Watch(); err != nil {
				logger.WithError(err).Warn("Could not watch music directory")
			}
		}
		defer lib.Close()
	}

	var api *server.Server
	if cfg.Server.Enabled {
		ln, err := net.Listen("tcp", cfg.GetAddress())
		if err != nil {
			logger.WithError(err).Fatal("Error starting control API")
		}
		api = server.New(sess, localPlayer, server.Options{
			Addr:           cfg.GetAddress(),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			EnableCORS:     cfg.Server.EnableCORS,
			RequestLogging: cfg.Server.RequestLogging,
			TokenHash:      cfg.Server.TokenHash,
		}, logger)
		go func() {
			if err := api.Start(ln); err != nil {
				logger.WithError(err).Error("Control API stopped")
			}
		}()

		tunnel, err := ngrok.NewService(&cfg.Ngrok, logger)
		if err != nil {
			logger.WithError(err).Fatal("Error configuring ngrok")
		}
		if err := tunnel.StartTunnel(ctx, ln.Addr().String()); err != nil {
			logger.WithError(err).Error("Could not start ngrok tunnel, continuing without it")
		}
		defer tunnel.Stop()
	}

	switch {
	case *create:
		roomID, code, err := sess.ConnectAndCreateRoom(ctx)
		if err != nil {
			logger.WithError(err).Fatal(syncerr.FriendlyMessage(err))
		}
		logger.WithFields(logrus.Fields{"room_id": roomID, "room_code": code}).Info("Room created, share the code to invite devices")
	case *join != "":
		roomID, err := sess.ConnectAndJoinRoom(ctx, *join)
		if err != nil {
			logger.WithError(err).Fatal(syncerr.FriendlyMessage(err))
		}
		logger.WithField("room_id", roomID).Info("Joined room")
	}

	if *watch != "" {
		sess.SetWatchingListID(*watch)
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Control API did not shut down cleanly")
		}
	}
	if err := sess.Disconnect(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Could not leave the room cleanly")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("Using the in-process memory store, rooms are only visible to this process")
		return store.NewMemoryStore(nil, logger), nil
	}
	return store.OpenRedis(ctx, cfg.Store.RedisURL, store.RedisOptions{
		TreeKey:      cfg.Store.TreeKey,
		Channel:      cfg.Store.Channel,
		PingInterval: cfg.PingInterval(),
	}, logger)
}
