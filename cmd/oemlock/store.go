package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/kardianos/oemlock/config"
	"github.com/kardianos/oemlock/objstore"
)

// Store names under DataDir. The server and its callers keep separate
// stores so both can run on one host with the bolt backend.
const (
	storeServer = "server"
	storeClient = "client"
)

// openStore opens the configured object store named name. The returned
// closer is never nil.
func openStore(c *config.Config, name string) (objstore.Store, io.Closer, error) {
	var key *[objstore.KeySize]byte
	if c.SealKey != "" {
		k, err := objstore.ParseKey(c.SealKey)
		if err != nil {
			return nil, nil, fmt.Errorf("seal_key: %w", err)
		}
		key = &k
	}
	sealer := objstore.DefaultSealer(key)

	switch c.Store {
	case config.StoreMemory:
		return objstore.NewMemStore(sealer), nopCloser{}, nil
	case config.StoreFile:
		s, err := objstore.NewFileStore(filepath.Join(c.DataDir, name), sealer)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	default:
		s, err := objstore.NewBoltStore(filepath.Join(c.DataDir, name+".db"), sealer)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
