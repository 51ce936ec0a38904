package bootstrap

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"growiclient/app/internal/config"
	"growiclient/app/internal/db"
	"growiclient/app/internal/explorer"
	"growiclient/app/internal/growi"
	apphttp "growiclient/app/internal/http"
	"growiclient/app/internal/pagefs"
	"growiclient/app/internal/settings"
	"growiclient/app/internal/wikipath"
)

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	// Scheduler runs explorer loads. Defaults to a goroutine per load.
	Scheduler explorer.Scheduler
	Version   string
}

type Result struct {
	Settings   *settings.Store
	Client     *growi.Client
	Files      *pagefs.Provider
	Explorer   *explorer.Explorer
	HTTPServer *apphttp.Server
	Database   *gorm.DB
	Cleanup    func() error
}

// Build composes the growi client layers and returns the constructed components.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	if deps.Config == nil {
		return Result{}, eris.New("configuration is required")
	}
	cfg := deps.Config

	conn, err := db.Open(db.Options{Path: cfg.DBPath, Logger: deps.Logger})
	if err != nil {
		return Result{}, eris.Wrap(err, "opening database")
	}

	var closers []func()
	closeOnError := func(wrapper error) (Result, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		if closeErr := db.Close(conn); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	if err := settings.Migrate(ctx, conn, deps.Logger); err != nil {
		return closeOnError(eris.Wrap(err, "running settings migrations"))
	}

	repo, err := settings.NewRepository(conn, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating settings repository"))
	}

	store, err := settings.NewStore(ctx, settings.StoreOptions{Repository: repo, Logger: deps.Logger})
	if err != nil {
		return closeOnError(eris.Wrap(err, "loading settings"))
	}

	if err := applySeed(ctx, store, cfg.GrowiSeed); err != nil {
		return closeOnError(eris.Wrap(err, "applying settings from environment"))
	}

	client, err := growi.NewClient(growi.ClientOptions{
		Settings: store,
		Timeout:  cfg.HTTPTimeout,
		Logger:   deps.Logger,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating growi client"))
	}

	files, err := pagefs.New(pagefs.Options{Client: client, Logger: deps.Logger})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating page file provider"))
	}

	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = explorer.NewGoroutineScheduler()
	}

	tree, err := explorer.New(explorer.Options{
		Client:    client,
		Settings:  store,
		Scheduler: scheduler,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating page explorer"))
	}
	closers = append(closers, tree.Close)

	unsubscribe := files.OnDidChangeFile(func(event pagefs.FileChangeEvent) {
		refreshed, ok := tree.RefreshNearestLoaded(wikipath.Parent(event.Path))
		if ok && deps.Logger != nil {
			deps.Logger.WithFields(logrus.Fields{
				"path":      event.Path,
				"change":    event.Type.String(),
				"refreshed": refreshed,
			}).Debug("page tree refreshed after file change")
		}
	})
	closers = append(closers, unsubscribe)

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Tree:      tree,
		Files:     files,
		Pages:     client,
		Database:  conn,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		Version:   deps.Version,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.Burst,
			RequestsPerSecond: cfg.RequestsPerSecond,
			ClientTTL:         cfg.ClientTTL,
		},
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	cleanup := func() error {
		httpServer.Close()
		unsubscribe()
		tree.Close()
		return db.Close(conn)
	}

	return Result{
		Settings:   store,
		Client:     client,
		Files:      files,
		Explorer:   tree,
		HTTPServer: httpServer,
		Database:   conn,
		Cleanup:    cleanup,
	}, nil
}

// applySeed writes the non-empty environment overrides through the store so they persist
// and notify like any other settings change.
func applySeed(ctx context.Context, store *settings.Store, seed config.GrowiSeed) error {
	if strings.TrimSpace(seed.URL) != "" {
		if err := store.SetWikiURL(ctx, seed.URL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(seed.APIToken) != "" {
		if err := store.SetAPIToken(ctx, seed.APIToken); err != nil {
			return err
		}
	}
	if strings.TrimSpace(seed.RootPath) != "" {
		if err := store.SetRootPath(ctx, seed.RootPath); err != nil {
			return err
		}
	}
	if seed.MaxPagePerTime > 0 {
		if err := store.SetMaxPagePerTime(ctx, seed.MaxPagePerTime); err != nil {
			return err
		}
	}
	return nil
}
