package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/badgesync"
	"github.com/yourorg/badgeauth/internal/config"
	"github.com/yourorg/badgeauth/internal/keys"
	"github.com/yourorg/badgeauth/internal/logging"
	"github.com/yourorg/badgeauth/internal/oauth"
	"github.com/yourorg/badgeauth/internal/platformtoken"
	"github.com/yourorg/badgeauth/internal/server"
	"github.com/yourorg/badgeauth/internal/session"
	"github.com/yourorg/badgeauth/internal/storage"
)

// memoryDatabase selects in-process account storage, for local development.
const memoryDatabase = "memory"

// app holds the wired service. Close releases its connections.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sqlx.DB
	redis    *redis.Client
	accounts account.Repo
	sessions session.Store
	broker   *oauth.Broker
	server   *server.Server
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// openStores connects the account repository and the session store.
func openStores(ctx context.Context, a *app) error {
	if a.cfg.DatabaseURL == memoryDatabase {
		a.accounts = storage.NewInMemoryRepo()
	} else {
		db, err := storage.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db
		a.accounts = storage.NewSQLRepo(db)
	}

	opts := []session.Option{session.WithTTL(a.cfg.SessionTTL)}
	switch a.cfg.SessionStore {
	case config.SessionStoreRedis:
		ropts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(ropts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		a.sessions = session.NewRedisStore(a.redis, opts...)
	case config.SessionStoreDatabase:
		if a.db == nil {
			a.logger.Warn("DATABASE_URL=memory; oauth sessions kept in memory")
			a.sessions = session.NewMemoryStore(opts...)
			break
		}
		a.sessions = session.NewSQLStore(a.db, opts...)
	default:
		a.sessions = session.NewMemoryStore(opts...)
	}
	a.logger.Info("oauth session store ready", zap.String("backend", a.cfg.SessionStore))
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	material, err := keys.Load(cfg.Keys.Source())
	if err != nil {
		return nil, err
	}
	logger.Info("platform keys loaded",
		zap.String("private_key_source", string(material.PrivateOrigin)),
		zap.String("public_key_source", string(material.PublicOrigin)))

	tokens, err := platformtoken.New(platformtoken.Config{
		PlatformID:     cfg.PlatformID,
		Issuer:         cfg.JWTIssuer(),
		Audience:       cfg.Audience,
		KeyID:          cfg.KeyID,
		ClockTolerance: cfg.ClockToleranceDuration(),
	}, material, platformtoken.WithLogger(logger.Named("platformtoken")))
	if err != nil {
		return nil, err
	}

	if err := openStores(ctx, a); err != nil {
		a.Close()
		return nil, err
	}

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	providers := []*oauth.Provider{
		oauth.NewGitHub(credentials(cfg, oauth.GitHub, cfg.GitHub)),
		oauth.NewGoogle(credentials(cfg, oauth.Google, cfg.Google)),
		oauth.NewDiscord(credentials(cfg, oauth.Discord, cfg.Discord)),
	}
	for _, p := range providers {
		if !p.Configured() {
			logger.Info("oauth provider disabled: client id or secret missing", zap.String("provider", p.Name))
		}
	}

	var syncer oauth.UserSyncer
	if cfg.OpenBadgesURL != "" {
		syncer = badgesync.New(cfg.OpenBadgesURL, tokens, &http.Client{Timeout: cfg.OpenBadgesSyncTimeout}, logger.Named("badgesync"))
	}

	a.broker = oauth.NewBroker(providers, oauth.Deps{
		Sessions:        a.sessions,
		Accounts:        a.accounts,
		Tokens:          tokens,
		Syncer:          syncer,
		HTTPClient:      providerClient,
		SyncTimeout:     cfg.OpenBadgesSyncTimeout,
		RedirectOrigins: cfg.AllowedRedirectOrigins,
		Logger:          logger.Named("oauth"),
	})

	a.server = server.New(server.Deps{
		Broker:           a.broker,
		Sessions:         a.sessions,
		Accounts:         a.accounts,
		Tokens:           tokens,
		Logger:           logger,
		FrontendCallback: cfg.FrontendCallbackURL,
		Ping:             a.ping,
	})
	return a, nil
}

func credentials(cfg *config.Config, name string, p config.ProviderEnv) oauth.Credentials {
	return oauth.Credentials{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  cfg.CallbackURL(name, p),
	}
}

func (a *app) ping(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.broker != nil {
		a.broker.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
