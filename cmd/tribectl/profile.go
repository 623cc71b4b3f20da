package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/keystore"
	"github.com/matheus3301/tribe/internal/lock"
	"github.com/matheus3301/tribe/internal/profile"
	"github.com/matheus3301/tribe/internal/store"
)

// offline is a profile opened directly, without a running tribed.
type offline struct {
	lock *lock.Lock
	db   *store.DB
	ks   keystore.Store
	log  *zap.Logger
}

// openOffline takes the profile lock, so it fails while tribed owns the profile.
func openOffline(g *globals) (*offline, error) {
	if g.cfg.Keystore.Passphrase == "" {
		return nil, errors.New("keystore passphrase not set (TRIBE_KEYSTORE_PASSPHRASE)")
	}
	if err := profile.EnsureDir(g.profile); err != nil {
		return nil, err
	}
	lk, err := lock.Acquire(profile.Dir(g.profile))
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return nil, fmt.Errorf("%w; stop tribed first", err)
		}
		return nil, err
	}
	db, err := store.Open(profile.DBPath(g.profile))
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}
	ks, err := keystore.Open(db, g.cfg.Keystore.Passphrase, keystore.DefaultParams)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}
	return &offline{lock: lk, db: db, ks: ks, log: zap.NewNop()}, nil
}

func (o *offline) Close() {
	_ = o.db.Close()
	_ = o.lock.Release()
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
