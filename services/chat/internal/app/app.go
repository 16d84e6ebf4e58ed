package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/realtime"
	"roomchat/pkg/domain"
	"roomchat/pkg/events"
	"roomchat/pkg/storage"
	"roomchat/pkg/store"
)

const defaultExportURLTTL = 15 * time.Minute

// ExportQueue schedules transcript exports.
type ExportQueue interface {
	Enqueue(ctx context.Context, roomID, requestedBy string) (domain.ExportJob, error)
	GetJob(ctx context.Context, jobID string) (domain.ExportJob, bool, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Sessions    store.SessionStore
	// Membership defaults to an in-process store.
	Membership realtime.Membership
	// Publisher defaults to dropping events.
	Publisher events.Publisher
	// Exports and Objects are both required for transcript exports.
	Exports      ExportQueue
	Objects      storage.ObjectStore
	ExportURLTTL time.Duration
	HistoryLimit int
	StreamBuffer int
}

// App wires the connection registry, membership and router to the durable store.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	membership realtime.Membership
	registry   *realtime.Registry
	router     *realtime.Router
	publisher  events.Publisher
	exports    ExportQueue
	objects    storage.ObjectStore

	exportURLTTL time.Duration
	historyLimit int
	now          func() time.Time
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	membership := cfg.Membership
	if membership == nil {
		membership = realtime.NewMemoryMembership()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = store.DefaultHistoryLimit
	}
	exportURLTTL := cfg.ExportURLTTL
	if exportURLTTL <= 0 {
		exportURLTTL = defaultExportURLTTL
	}

	registry := realtime.NewRegistry(realtime.RegistryConfig{
		Buffer: cfg.StreamBuffer,
		Groups: membership,
	})
	a := &App{
		store:        dataStore,
		sessions:     cfg.Sessions,
		membership:   membership,
		registry:     registry,
		router:       realtime.NewRouter(registry, membership),
		publisher:    publisher,
		exportURLTTL: exportURLTTL,
		historyLimit: store.ClampHistoryLimit(historyLimit),
		now:          func() time.Time { return time.Now().UTC() },
	}
	if cfg.Exports != nil && cfg.Objects != nil {
		a.exports = cfg.Exports
		a.objects = cfg.Objects
	}
	registry.OnDisconnect(a.handleDisconnect)
	return a, nil
}

// ExportsEnabled reports whether transcript exports are configured.
func (a *App) ExportsEnabled() bool {
	return a.exports != nil
}

// Shutdown closes every open stream and waits for their disconnect cleanup.
func (a *App) Shutdown(ctx context.Context) error {
	return a.registry.Shutdown(ctx)
}

// Close releases the publisher and the store.
func (a *App) Close() error {
	return errors.Join(a.publisher.Close(), a.store.Close())
}

func (a *App) requireRoom(ctx context.Context, roomID string) error {
	exists, err := a.store.RoomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !exists {
		return ErrRoomNotFound
	}
	return nil
}
