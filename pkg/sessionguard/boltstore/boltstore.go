// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package boltstore persists session credentials in a bbolt file, so a
// command-line client stays logged in between runs.
package boltstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"

	"github.com/holomush/taskd/pkg/sessionguard"
)

var (
	bucketSession  = []byte("session")
	keyCredentials = []byte("credentials")
)

// Store is a sessionguard.CredentialStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path. The file is readable only by
// its owner.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, oops.Code("CREDENTIAL_STORE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close() //nolint:errcheck // init error wins
		return nil, oops.Code("CREDENTIAL_STORE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("CREDENTIAL_STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Load(_ context.Context) (sessionguard.Credentials, error) {
	var creds sessionguard.Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(keyCredentials)
		if data == nil {
			return sessionguard.ErrNoCredentials
		}
		return json.Unmarshal(data, &creds)
	})
	if err != nil {
		return sessionguard.Credentials{}, oops.With("operation", "load credentials").Wrap(err)
	}
	return creds, nil
}

func (s *Store) Save(_ context.Context, creds sessionguard.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return oops.Code("CREDENTIAL_STORE_SAVE_FAILED").Wrap(err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyCredentials, data)
	})
	if err != nil {
		return oops.Code("CREDENTIAL_STORE_SAVE_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(keyCredentials)
	})
	if err != nil {
		return oops.Code("CREDENTIAL_STORE_CLEAR_FAILED").Wrap(err)
	}
	return nil
}

var _ sessionguard.CredentialStore = (*Store)(nil)
