package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/config"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"

	"go.uber.org/zap"
)

// openStore returns the record store selected by STORE_DRIVER and a func
// that releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	client, db, err := config.ConnectDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	mongoStore := store.NewMongoStore(db)
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Warn("MongoDB disconnect failed", zap.Error(err))
		}
	}
	return mongoStore, closeFn, nil
}

// ensureAdmin creates the configured admin account if it does not exist yet.
func ensureAdmin(ctx context.Context, users store.UserStore, email, password string, logger *zap.Logger) error {
	if email == "" {
		return nil
	}
	email = strings.ToLower(email)

	existing, err := users.GetUserByEmail(ctx, email)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			logger.Warn("configured admin email belongs to a non-admin account", zap.String("email", email))
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	admin, err := models.NewUser("Administrator", email, password, models.RoleAdmin, time.Now())
	if err != nil {
		return err
	}
	if err := users.InsertUser(ctx, admin); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	logger.Info("admin account created", zap.String("email", email))
	return nil
}

const shutdownGrace = 10 * time.Second

// serve runs srv on ln until ctx ends or the listener fails, then drains
// in-flight requests within grace.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *zap.Logger, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", ln.Addr(), err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}
