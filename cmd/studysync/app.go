package main

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/config"
	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/logging"
	"github.com/MarcoPoloResearchLab/studysync/internal/services"
	"github.com/MarcoPoloResearchLab/studysync/internal/syncer"
	"github.com/MarcoPoloResearchLab/studysync/internal/syncqueue"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// application bundles the components shared by the client commands.
type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   *database.Store
	queue   *syncqueue.Queue
	client  *api.Client
	manager *syncer.Manager
	tasks   *services.TaskService
}

func loadConfig() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

// openApplication opens the store, builds the collaborators and initializes
// the sync manager. The periodic timer is stopped again unless keepTimer is set.
func openApplication(ctx context.Context, keepTimer bool) (*application, error) {
	appConfig, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := database.OpenStore(ctx, database.StoreConfig{Path: appConfig.DatabasePath, Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	app := &application{config: appConfig, logger: logger, store: store}

	if err := app.build(ctx, keepTimer); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) build(ctx context.Context, keepTimer bool) error {
	queue, err := syncqueue.New(syncqueue.Config{Store: a.store, Logger: a.logger})
	if err != nil {
		return err
	}
	client, err := api.NewClient(api.Config{
		BaseURL: a.config.APIBaseURL,
		Token:   a.config.APIToken,
		Timeout: a.config.APITimeout,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	manager, err := syncer.NewManager(syncer.Config{
		Store:          a.store,
		Queue:          queue,
		Client:         client,
		Interval:       a.config.SyncInterval,
		RequestTimeout: a.config.APITimeout,
		QueueRetention: a.config.QueueRetention,
		Model:          a.config.DeviceModel,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	if !keepTimer {
		manager.StopPeriodicSync()
	}
	tasks, err := services.NewTaskService(services.Dependencies{Store: a.store, Queue: queue, Logger: a.logger})
	if err != nil {
		manager.StopPeriodicSync()
		return err
	}

	a.queue = queue
	a.client = client
	a.manager = manager
	a.tasks = tasks
	return nil
}

// Close stops the timer, closes the store and flushes the logger.
func (a *application) Close() {
	if a.manager != nil {
		a.manager.StopPeriodicSync()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

var errNotAuthenticated = errors.New("no usable api token: set api.token or STUDYSYNC_API_TOKEN")
