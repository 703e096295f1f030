package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fieldverify/fieldsync/internal/api"
	"github.com/fieldverify/fieldsync/internal/auth"
	"github.com/fieldverify/fieldsync/internal/casecache"
	"github.com/fieldverify/fieldsync/internal/caserepo"
	"github.com/fieldverify/fieldsync/internal/filestore"
	"github.com/fieldverify/fieldsync/internal/store"
	casesync "github.com/fieldverify/fieldsync/internal/sync"
	"github.com/fieldverify/fieldsync/internal/tokenfile"
)

// app is the per-invocation object graph: one store, one file store, one
// session, and the clients and engine built over them.
type app struct {
	logger *slog.Logger

	store   *store.Store
	kv      *store.KV
	files   *filestore.Store
	repo    *caserepo.Repository
	tokens  *tokenfile.Store
	session *auth.Session
	cache   *casecache.Cache

	// anon sends login and refresh without a bearer token; client carries
	// the session's token and refreshes through it on 401.
	anon   *api.Client
	client *api.Client
	engine *casesync.Engine
}

// openApp opens the data directory described by cc.Cfg and wires every
// component. Close must be called when done.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	st, err := store.Open(ctx, cfg.DBPath(), logger)
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		logger: logger,
		store:  st,
		kv:     st.KV(),
		files:  files,
		tokens: tokenfile.New(cfg.TokenPath()),
	}

	a.repo = caserepo.New(st.DB(), files, logger)
	a.cache = casecache.New(a.kv, logger)

	httpClient := &http.Client{}

	a.anon, err = api.NewClient(api.ClientConfig{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     httpClient,
		Logger:         logger,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		UploadTimeout:  cfg.UploadTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	a.session = auth.NewSession(auth.Config{
		Tokens:        a.tokens,
		KV:            a.kv,
		Backend:       a.anon,
		Logger:        logger,
		ClearOnLogout: casecache.Keys(),
	})

	a.client, err = api.NewClient(api.ClientConfig{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     httpClient,
		Credentials:    a.session,
		Logger:         logger,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		UploadTimeout:  cfg.UploadTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	a.engine = casesync.NewEngine(casesync.EngineConfig{
		Repo:    a.repo,
		Backend: a.client,
		Cache:   a.cache,
		Logger:  logger,
	})

	return a, nil
}

// Close stops the refresh loop and closes the database.
func (a *app) Close() error {
	a.session.StopRefreshLoop()
	return a.store.Close()
}

// requireUser returns the logged-in agent or a hint to log in.
func (a *app) requireUser(ctx context.Context) (*auth.User, error) {
	user, err := a.session.User(ctx)
	if errors.Is(err, auth.ErrNotLoggedIn) {
		return nil, errors.New("not logged in; run 'fieldsync login' first")
	}

	if err != nil {
		return nil, err
	}

	if user.ID == "" {
		return nil, fmt.Errorf("session has no user id; run 'fieldsync login' again")
	}

	return user, nil
}

// withApp opens the app for the command's CLIContext, runs fn, and closes
// the app.
func withApp(ctx context.Context, fn func(cc *CLIContext, a *app) error) error {
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.Close(); cerr != nil {
			cc.Logger.Warn("closing data store", slog.String("error", cerr.Error()))
		}
	}()

	return fn(cc, a)
}
