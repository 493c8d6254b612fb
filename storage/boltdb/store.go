// Package boltdb provides a bbolt-backed DocumentStore for deployments that
// want a single-file embedded store without CGO.
package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	notesync "github.com/c0deZ3R0/go-note-sync"
	syncErrors "github.com/c0deZ3R0/go-note-sync/errors"
)

const (
	opGet         = "boltdb.Get"
	opPut         = "boltdb.Put"
	opDelete      = "boltdb.Delete"
	opListPending = "boltdb.ListPending"
	opGetBase     = "boltdb.GetBase"
	opPutBase     = "boltdb.PutBase"
	opDeleteBase  = "boltdb.DeleteBase"
	opInit        = "boltdb.Open"
)

const storeComponent = syncErrors.Component("storage/boltdb")

var (
	documentsBucket = []byte("documents")
	basesBucket     = []byte("bases")
)

var (
	_ notesync.DocumentStore = (*Store)(nil)
	_ notesync.BaseStore     = (*Store)(nil)
)

// Store persists documents and base snapshots in a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opInit, storeComponent, syncErrors.KindStorage)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(documentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(basesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, syncErrors.WrapOpComponentKind(err, opInit, storeComponent, syncErrors.KindStorage)
	}
	return &Store{db: db}, nil
}

// Get implements notesync.DocumentStore.
func (s *Store) Get(ctx context.Context, id string) (notesync.Document, error) {
	doc, err := s.get(documentsBucket, id)
	if err != nil {
		if errors.Is(err, notesync.ErrNotFound) {
			return notesync.Document{}, notesync.ErrNotFound
		}
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGet, storeComponent, syncErrors.KindStorage)
	}
	return doc, nil
}

// Put implements notesync.DocumentStore.
func (s *Store) Put(ctx context.Context, doc notesync.Document) error {
	if err := s.put(documentsBucket, doc); err != nil {
		return syncErrors.WrapOpComponentKind(err, opPut, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// Delete implements notesync.DocumentStore. Deleting a missing document is
// not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.delete(documentsBucket, id); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDelete, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// ListPending implements notesync.DocumentStore.
func (s *Store) ListPending(ctx context.Context) ([]notesync.Document, error) {
	var docs []notesync.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var doc notesync.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if doc.Status == notesync.StatusPending {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opListPending, storeComponent, syncErrors.KindStorage)
	}
	return docs, nil
}

// GetBase implements notesync.BaseStore.
func (s *Store) GetBase(ctx context.Context, id string) (notesync.Document, error) {
	doc, err := s.get(basesBucket, id)
	if err != nil {
		if errors.Is(err, notesync.ErrNotFound) {
			return notesync.Document{}, notesync.ErrNotFound
		}
		return notesync.Document{}, syncErrors.WrapOpComponentKind(err, opGetBase, storeComponent, syncErrors.KindStorage)
	}
	return doc, nil
}

// PutBase implements notesync.BaseStore.
func (s *Store) PutBase(ctx context.Context, doc notesync.Document) error {
	if err := s.put(basesBucket, doc); err != nil {
		return syncErrors.WrapOpComponentKind(err, opPutBase, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// DeleteBase implements notesync.BaseStore.
func (s *Store) DeleteBase(ctx context.Context, id string) error {
	if err := s.delete(basesBucket, id); err != nil {
		return syncErrors.WrapOpComponentKind(err, opDeleteBase, storeComponent, syncErrors.KindStorage)
	}
	return nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(bucket []byte, id string) (notesync.Document, error) {
	var doc notesync.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(id))
		if v == nil {
			return notesync.ErrNotFound
		}
		return json.Unmarshal(v, &doc)
	})
	return doc, err
}

func (s *Store) put(bucket []byte, doc notesync.Document) error {
	doc.Tags = notesync.NormalizeTags(doc.Tags)
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(doc.ID), data)
	})
}

func (s *Store) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}
