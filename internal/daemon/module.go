package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/api"
	"github.com/matheus3301/tribe/internal/auth"
	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/cache"
	"github.com/matheus3301/tribe/internal/config"
	"github.com/matheus3301/tribe/internal/crypto"
	"github.com/matheus3301/tribe/internal/drafts"
	"github.com/matheus3301/tribe/internal/keystore"
	"github.com/matheus3301/tribe/internal/lock"
	"github.com/matheus3301/tribe/internal/logging"
	"github.com/matheus3301/tribe/internal/outbox"
	"github.com/matheus3301/tribe/internal/profile"
	"github.com/matheus3301/tribe/internal/store"
	"github.com/matheus3301/tribe/internal/upload"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	Verbose     bool
	SocketPath  string           // optional override for testing; empty = use default
	KeyParams   *keystore.Params // optional override for testing; nil = keystore.DefaultParams
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideKeystore,
			provideIdentity,
			provideCrypto,
			provideSessions,
			providePipeline,
			provideGateway,
			providePoster,
			provideDrafts,
			provideSender,
			provideCache,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.Verbose)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideKeystore(p Params, db *store.DB, logger *zap.Logger) (keystore.Store, error) {
	if p.Config.Keystore.Passphrase == "" {
		return nil, fmt.Errorf("keystore passphrase not set (TRIBE_KEYSTORE_PASSPHRASE)")
	}
	params := keystore.DefaultParams
	if p.KeyParams != nil {
		params = *p.KeyParams
	}
	ks, err := keystore.Open(db, p.Config.Keystore.Passphrase, params)
	if err != nil {
		return nil, err
	}
	logger.Info("keystore unsealed")
	return ks, nil
}

func provideIdentity(ks keystore.Store, logger *zap.Logger) (crypto.KeyPair, error) {
	kp, created, err := crypto.EnsureIdentity(ks)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	if created {
		logger.Info("device identity generated", zap.String("key_id", kp.ID()))
	} else {
		logger.Info("device identity loaded", zap.String("key_id", kp.ID()))
	}
	return kp, nil
}

func provideCrypto(logger *zap.Logger) *crypto.Service {
	return crypto.NewService(logger.Named("crypto"))
}

func provideSessions(p Params, ks keystore.Store, b *bus.Bus, logger *zap.Logger) (*auth.Client, error) {
	return auth.NewClient(auth.Options{
		BaseURL: p.Config.API.BaseURL,
		Window:  p.Config.API.RefreshWindow.Duration,
		HTTP:    &http.Client{Timeout: p.Config.API.Timeout.Duration},
	}, ks, b, logger.Named("auth"))
}

func providePipeline(p Params, sessions *auth.Client, logger *zap.Logger) (*api.Pipeline, error) {
	client := &http.Client{Timeout: p.Config.API.Timeout.Duration}
	return api.NewPipeline(p.Config.API.BaseURL, client, sessions, logger.Named("api"))
}

func provideGateway(p Params, sessions *auth.Client, logger *zap.Logger) (upload.Gateway, error) {
	u := p.Config.Upload
	log := logger.Named("upload")
	switch u.Backend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gw, err := upload.NewS3Gateway(ctx, upload.S3Config{
			Region:     u.Region,
			Bucket:     u.Bucket,
			AccessKey:  u.AccessKey,
			SecretKey:  u.SecretKey,
			Endpoint:   u.Endpoint,
			PublicBase: u.PublicBase,
		}, log)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case "http":
		// No client timeout: media bodies can take longer than API calls.
		gw, err := upload.NewHTTPGateway(u.HTTPBaseURL, &http.Client{}, sessions, log)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", u.Backend)
	}
}

func providePoster(pipeline *api.Pipeline, logger *zap.Logger) *outbox.Poster {
	return outbox.NewPoster(outbox.PipelineAPI{Pipeline: pipeline}, logger.Named("outbox"))
}

func provideDrafts(p Params, db *store.DB, svc *crypto.Service, gw upload.Gateway, poster *outbox.Poster, b *bus.Bus, logger *zap.Logger) *drafts.Manager {
	return drafts.NewManager(db, svc, gw, poster, b, logger.Named("drafts"), drafts.Options{
		StuckAfter: p.Config.Drafts.StuckAfter.Duration,
	})
}

func provideSender(p Params, m *drafts.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(m, b, p.Config.Outbox.Interval.Duration, logger.Named("outbox"))
}

func provideCache(p Params, ks keystore.Store, b *bus.Bus, logger *zap.Logger) (*cache.Cache, error) {
	return cache.New(profile.CacheDir(p.ProfileName), ks, p.Config.Cache.Expiry.Duration, b, logger.Named("cache"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	m *drafts.Manager,
	sender *outbox.Sender,
	c *cache.Cache,
	sessions *auth.Client,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := m.Restore(ctx)
			if err != nil {
				return fmt.Errorf("restore drafts: %w", err)
			}
			logger.Info("drafts restored", zap.Int("pending", n))

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			c.Start(context.Background(), p.Config.Cache.TrimInterval.Duration)

			if _, ok := sessions.Current(); !ok {
				logger.Info("no session found, login required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			c.Stop()
			m.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
