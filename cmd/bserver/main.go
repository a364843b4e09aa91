// Package main runs the battleship session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/admin"
	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/gameserver"
	"github.com/cory-johannsen/battleship/internal/observability"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/random"
	"github.com/cory-johannsen/battleship/internal/server"
	"github.com/cory-johannsen/battleship/internal/storage/postgres"
	"github.com/cory-johannsen/battleship/internal/transport/tcp"
	"github.com/cory-johannsen/battleship/internal/transport/websocket"
)

const version = "1.0"

// overrides holds the command-line values that win over the config file.
type overrides struct {
	addr       string
	port       int
	maxClients int
	maxRooms   int
}

// apply copies every flag the user set on set into cfg.
func (o overrides) apply(set *flag.FlagSet, cfg *config.Config) {
	set.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Host = o.addr
		case "port":
			cfg.Server.Port = o.port
		case "max-clients":
			cfg.Server.MaxClients = o.maxClients
		case "max-rooms":
			cfg.Server.MaxRooms = o.maxRooms
		}
	})
}

func registerOverrides(set *flag.FlagSet) *overrides {
	o := &overrides{}
	set.StringVar(&o.addr, "addr", "", "listen address, overrides server.host")
	set.IntVar(&o.port, "port", 0, "listen port, overrides server.port")
	set.IntVar(&o.maxClients, "max-clients", 0, "maximum connected clients, overrides server.max_clients")
	set.IntVar(&o.maxRooms, "max-rooms", 0, "maximum rooms, overrides server.max_rooms")
	return o
}

func loadFleet(cfg config.GameConfig) (board.Fleet, error) {
	if cfg.FleetFile == "" {
		return board.DefaultFleet(), nil
	}
	return board.LoadFleet(cfg.FleetFile)
}

// checkRecordSize rejects a max_record_size too small to carry BOARD_READY
// for fleet: the type token plus "|rc" per ship cell.
func checkRecordSize(fleet board.Fleet, sessCfg config.SessionConfig) error {
	need := len(protocol.BoardReady.String()) + 3*fleet.Cells()
	if need > sessCfg.MaxRecordSize {
		return fmt.Errorf("session.max_record_size %d is below the %d bytes BOARD_READY needs for fleet %s",
			sessCfg.MaxRecordSize, need, fleet)
	}
	return nil
}

func newSource(cfg config.GameConfig) random.Source {
	if cfg.Seed != 0 {
		return random.NewSeededSource(cfg.Seed)
	}
	return random.NewCryptoSource()
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (empty = defaults and environment)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	o := registerOverrides(flag.CommandLine)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	o.apply(flag.CommandLine, &cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	fleet, err := loadFleet(cfg.Game)
	if err != nil {
		logger.Fatal("loading fleet", zap.Error(err))
	}
	if err := checkRecordSize(fleet, cfg.Session); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	catalog := protocol.NewCatalog(fleet.Cells())

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var recorder *gameserver.Recorder
	if cfg.Database.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := postgres.NewPool(dbCtx, cfg.Database)
		cancel()
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()

		if cfg.Database.Migrations != "" {
			schema, err := postgres.Migrate(cfg.Database.Migrations, cfg.Database)
			if err != nil {
				logger.Fatal("migrating results database", zap.Error(err))
			}
			logger.Info("results schema ready", zap.Uint("version", schema))
		}

		repo := postgres.NewResultRepository(pool.DB())
		recorder = gameserver.NewRecorder(repo, 64, 5*time.Second, observability.Component(logger, "recorder"))
		// Registered first so it stops last and flushes what the game server queued.
		lifecycle.Add("recorder", &server.FuncService{
			StartFn: func() error {
				recorder.Run(context.Background())
				return nil
			},
			StopFn: func() { _ = recorder.Close() },
		})
		lifecycle.Go("postgres-health", func(ctx context.Context) error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		})
	}

	srv := gameserver.NewServer(gameserver.Options{
		Server:  cfg.Server,
		Session: cfg.Session,
		Fleet:   fleet,
		Random:  newSource(cfg.Game),
		Version: version,
		Results: recorder,
		Logger:  observability.Component(logger, "gameserver"),
	})

	acceptor := tcp.NewAcceptor(cfg.Server.Addr(), cfg.Session, catalog, srv, observability.Component(logger, "tcp"))
	lifecycle.Add("tcp", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if cfg.WebSocket.Enabled {
		gateway := websocket.NewGateway(cfg.WebSocket, cfg.Session, catalog, srv, observability.Component(logger, "websocket"))
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: gateway.ListenAndServe,
			StopFn:  gateway.Stop,
		})
	}

	if cfg.Admin.Enabled {
		health := admin.NewServer(cfg.Admin.Addr(), observability.Component(logger, "admin"))
		// Added last so it reports NOT_SERVING before the listeners go down.
		lifecycle.Add("admin", &server.FuncService{
			StartFn: health.ListenAndServe,
			StopFn:  health.Stop,
		})
		lifecycle.Go("health-probe", func(ctx context.Context) error {
			health.Track(ctx, time.Second, acceptor.IsRunning)
			return nil
		})
	}

	lifecycle.Go("reaper", func(ctx context.Context) error {
		srv.RunReaper(ctx)
		return nil
	})
	lifecycle.Go("keep-alive", func(ctx context.Context) error {
		srv.RunKeepAlive(ctx, cfg.Session.KeepAliveInterval)
		return nil
	})

	logger.Info("battleship server initialized",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("max_clients", cfg.Server.MaxClients),
		zap.Int("max_rooms", cfg.Server.MaxRooms),
		zap.String("fleet", fleet.String()),
		zap.Bool("results", recorder != nil),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
