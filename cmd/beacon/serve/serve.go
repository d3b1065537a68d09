// Package servecmder provides the serve command that runs the beacon API
// server with its storage, auth, event streaming, and feature flag wiring.
package servecmder

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beaconhq/beacon/api"
	"github.com/beaconhq/beacon/api/mcp"
	"github.com/beaconhq/beacon/cmd/beacon/sqlitepath"
	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/config"
	"github.com/beaconhq/beacon/pkg/eventstream"
	"github.com/beaconhq/beacon/pkg/eventstream/kafka"
	"github.com/beaconhq/beacon/pkg/eventstream/nop"
	"github.com/beaconhq/beacon/pkg/flags"
	"github.com/beaconhq/beacon/pkg/keys"
	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/storage/inmemory"
	"github.com/beaconhq/beacon/pkg/storage/postgres"
	"github.com/beaconhq/beacon/pkg/storage/sqlite"
	beaconsync "github.com/beaconhq/beacon/pkg/sync"
	"github.com/beaconhq/beacon/pkg/worker"
)

type ServeCommander struct {
	listen        string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	authIssuer    string
	eventBrokers  string
	eventTopic    string
	syncPageSize  uint
	syncWorkers   uint
	pretty        bool
	debug         bool
	configDir     string
	logger        *slog.Logger
}

// serveFlagSet defines every flag the serve command registers and the viper
// key each one binds to.
var serveFlagSet = config.FlagSet{
	config.FlagListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageDriver: {
		Name: "storage-driver", ViperKey: "storage.driver",
		Description: "Storage driver (sqlite, postgres, inmemory)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path",
		Description: "Path to the SQLite database file",
	},
	config.FlagPostgresDSN: {
		Name: "postgres-dsn", ViperKey: "storage.postgres_dsn",
		Description: "PostgreSQL connection string",
	},
	config.FlagAuthIssuer: {
		Name: "auth-issuer", ViperKey: "auth.issuer",
		Description: "Expected issuer of bearer tokens (empty skips the issuer check)",
	},
	config.FlagEventBrokers: {
		Name: "event-brokers", ViperKey: "events.brokers",
		Description: "Comma-separated Kafka broker list (empty disables event publishing)",
	},
	config.FlagEventTopic: {
		Name: "event-topic", ViperKey: "events.topic",
		Description: "Kafka topic for memory change events",
	},
	config.FlagSyncPageSize: {
		Name: "sync-page-size", ViperKey: "sync.page_size",
		Description: "Default page size for memory pulls",
	},
	config.FlagSyncWorkers: {
		Name: "sync-workers", ViperKey: "sync.workers",
		Description: "Number of event publish workers",
	},
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagAuthIssuer,
	config.FlagEventBrokers,
	config.FlagEventTopic,
	config.FlagSyncPageSize,
	config.FlagSyncWorkers,
}

const serveLongDesc string = `Run the beacon API server.

The server exposes memory push/pull for device synchronization, account and
preference endpoints, encrypted provider key storage, the billing webhook,
and an MCP endpoint for assistant sessions to recall memories.

Configuration is resolved in order of precedence: CLI flags, BEACON_*
environment variables, config.toml in the .beacon/ directory, defaults.
Secrets (auth.hmac_secret, keys.encryption_key, billing.webhook_secret) are
usually supplied via environment variables.`

const serveShortDesc string = "Run the beacon API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, err = cmd.Flags().GetString("config-dir")
			if err != nil {
				return fmt.Errorf("could not get config-dir flag: %v", err)
			}

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlagSet, serveFlagKeys)

			return cmder.run(cfgFromViper(v))
		},
	}

	config.AddStringFlag(cmd, serveFlagSet, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagAuthIssuer, &cmder.authIssuer)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagEventBrokers, &cmder.eventBrokers)
	config.AddStringFlag(cmd, serveFlagSet, config.FlagEventTopic, &cmder.eventTopic)
	config.AddUintFlag(cmd, serveFlagSet, config.FlagSyncPageSize, &cmder.syncPageSize)
	config.AddUintFlag(cmd, serveFlagSet, config.FlagSyncWorkers, &cmder.syncWorkers)
	cmd.Flags().BoolVar(&cmder.pretty, "pretty", false, "Human-friendly log output instead of JSON")

	return cmd
}

// cfgFromViper materializes the resolved configuration. Secrets are included;
// they only ever travel from viper into the process.
func cfgFromViper(v *viper.Viper) config.Config {
	return config.Config{
		Version: v.GetInt("version"),
		Storage: config.StorageConfig{
			Driver:      v.GetString("storage.driver"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
		},
		API: config.APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Auth: config.AuthConfig{
			Issuer:        v.GetString("auth.issuer"),
			HMACSecret:    v.GetString("auth.hmac_secret"),
			PublicKeyPath: v.GetString("auth.public_key_path"),
		},
		Keys: config.KeysConfig{
			EncryptionKey: v.GetString("keys.encryption_key"),
		},
		Flags: config.FlagsConfig{
			URL:    v.GetString("flags.url"),
			APIKey: v.GetString("flags.api_key"),
		},
		Events: config.EventsConfig{
			Brokers: v.GetString("events.brokers"),
			Topic:   v.GetString("events.topic"),
		},
		Sync: config.SyncConfig{
			PageSize: v.GetUint("sync.page_size"),
			Workers:  v.GetUint("sync.workers"),
		},
		Billing: config.BillingConfig{
			WebhookSecret: v.GetString("billing.webhook_secret"),
		},
	}
}

func (c *ServeCommander) run(cfg config.Config) error {
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(c.pretty),
		logger.WithJSON(!c.pretty),
	)

	driver, err := c.newStorageDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close()

	verifier, err := c.newVerifier(cfg)
	if err != nil {
		return err
	}

	sealer, err := c.newSealer(cfg)
	if err != nil {
		return err
	}

	flagClient, err := c.newFlagClient(cfg)
	if err != nil {
		return err
	}
	defer flagClient.Close()

	publisher := c.newPublisher(cfg)
	defer publisher.Close()

	pool, err := worker.NewPool(worker.Config{
		Publisher:  publisher,
		NumWorkers: cfg.Sync.Workers,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Close()

	engine := beaconsync.NewEngine(beaconsync.Config{
		Store:    driver,
		Logger:   c.logger,
		PageSize: int(cfg.Sync.PageSize),
		Notify: func(ownerID string, in memory.Incoming, outcome memory.MergeOutcome) {
			change := ""
			switch outcome {
			case memory.OutcomeInserted:
				change = eventstream.ChangeInserted
			case memory.OutcomeUpdated:
				change = eventstream.ChangeUpdated
			default:
				return
			}

			ev := eventstream.NewMemoryChangedEvent(ownerID, in.ExternalID, change)
			ev.Category = in.Category
			ev.OriginDevice = in.OriginDevice.Or("")
			pool.Enqueue(worker.Job{Event: ev})
		},
	})

	apiServer, err := api.NewServer(api.Config{
		ListenAddr:    cfg.API.Listen,
		WebhookSecret: cfg.Billing.WebhookSecret,
	}, api.Deps{
		Store:    driver,
		Engine:   engine,
		Verifier: verifier,
		Sealer:   sealer,
		Flags:    flagClient,
		Events:   pool,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{Engine: engine})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	apiServer.MountMCP(mcpServer.Handler())

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go c.watchConfig(watchCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return apiServer.Shutdown()
	}
}

func (c *ServeCommander) newStorageDriver(cfg config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		path, err := sqlitepath.Resolve(cfg.Storage.SQLitePath, c.configDir)
		if err != nil {
			return nil, err
		}
		driver, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		c.logger.Info("using SQLite storage", "path", path)
		return driver, nil

	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		driver, err := postgres.NewDriver(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres driver: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return driver, nil

	case "inmemory":
		c.logger.Warn("using in-memory storage; data is lost on restart")
		return inmemory.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func (c *ServeCommander) newVerifier(cfg config.Config) (auth.Verifier, error) {
	if cfg.Auth.HMACSecret != "" {
		return auth.NewHMACVerifier([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer), nil
	}

	if cfg.Auth.PublicKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading auth public key: %w", err)
		}
		pub, err := auth.ParseRSAPublicKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing auth public key: %w", err)
		}
		return auth.NewRSAVerifier(pub, cfg.Auth.Issuer), nil
	}

	return nil, errors.New("auth is not configured; set auth.hmac_secret or auth.public_key_path")
}

func (c *ServeCommander) newSealer(cfg config.Config) (*keys.Sealer, error) {
	if cfg.Keys.EncryptionKey == "" {
		c.logger.Warn("keys.encryption_key not set; provider key endpoints are disabled")
		return nil, nil
	}

	secret, err := hex.DecodeString(cfg.Keys.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("keys.encryption_key must be hex-encoded: %w", err)
	}

	sealer, err := keys.NewSealer(secret)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	return sealer, nil
}

func (c *ServeCommander) newFlagClient(cfg config.Config) (flags.Client, error) {
	if cfg.Flags.URL == "" {
		return flags.Nop(), nil
	}

	client, err := flags.NewUnleashClient(cfg.Flags.URL, cfg.Flags.APIKey, "beacon", c.logger)
	if err != nil {
		return nil, fmt.Errorf("creating feature flag client: %w", err)
	}
	c.logger.Info("feature flags enabled", "url", cfg.Flags.URL)
	return client, nil
}

func (c *ServeCommander) newPublisher(cfg config.Config) eventstream.Publisher {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		c.logger.Info("event publishing disabled; no brokers configured")
		return nop.NewPublisher()
	}

	c.logger.Info("publishing memory change events",
		"brokers", brokers, "topic", cfg.Events.Topic)
	return kafka.NewPublisher(brokers, cfg.Events.Topic)
}

// watchConfig watches the resolved config file and logs when it changes on
// disk. Changes take effect on the next restart.
func (c *ServeCommander) watchConfig(ctx context.Context) {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		return
	}
	target := cfger.GetTarget()
	if target == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Debug("config watch unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		c.logger.Debug("config watch unavailable", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.logger.Warn("config file changed on disk; restart to apply", "path", target)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Debug("config watch error", "error", err)
		}
	}
}
