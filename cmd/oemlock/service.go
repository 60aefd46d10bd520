package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kardianos/oemlock"
	"github.com/kardianos/oemlock/channel"
	"github.com/kardianos/oemlock/config"
	"github.com/kardianos/oemlock/events"
	"github.com/kardianos/oemlock/session"
)

// openService returns the Service selected by cfg.Mode. The returned
// cleanup releases the session, the event publisher and the client store.
func openService(ctx context.Context) (oemlock.Service, func(), error) {
	var pub events.Publisher
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		pub = p
	}
	closePub := func() {
		if pub != nil {
			pub.Close()
		}
	}

	if cfg.Mode == config.ModeMemory {
		m := oemlock.NewMemory(oemlock.MemoryOptions{
			Property: cfg.Property,
			Events:   pub,
			Logger:   logger,
		})
		return m, closePub, nil
	}

	client, closeStore, err := dialSession(ctx)
	if err != nil {
		closePub()
		return nil, nil, err
	}
	lock := oemlock.NewLock(oemlock.LockOptions{
		Client: client,
		Events: pub,
		Logger: logger,
	})
	cleanup := func() {
		if err := client.Disconnect(); err != nil {
			logger.Warn("disconnect", "error", err)
		}
		closePub()
		closeStore()
	}
	return lock, cleanup, nil
}

// dialSession connects a session client to the configured server.
func dialSession(ctx context.Context) (*session.Client, func(), error) {
	if cfg.ServerFP == "" {
		return nil, nil, errors.New("server_fp is required in trusted mode")
	}
	serverFP, err := channel.ParseFP(cfg.ServerFP)
	if err != nil {
		return nil, nil, fmt.Errorf("server_fp: %w", err)
	}

	store, closer, err := openStore(cfg, storeClient)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { closer.Close() }
	identity, err := channel.LoadOrCreateIdentity(store, cfg.Identity)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	client := session.New(session.Options{
		Dial: func(ctx context.Context) (channel.Channel, error) {
			return channel.Dial(ctx, channel.ClientOpt{
				ServerAddr: cfg.Server,
				ServerFP:   serverFP,
				Identity:   identity,
			})
		},
		Logger: logger.With("component", "session"),
	})
	if err := client.Connect(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return client, closeStore, nil
}
