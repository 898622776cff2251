// Package boltstore implements the registry's metadata store contract
// on an embedded ordered KV (go.etcd.io/bbolt), grounded on the
// bucket-per-entity, JSON-marshalled-value pattern of
// cuemby-warren's pkg/storage/boltdb.go.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

var (
	bucketUsersByID    = []byte("users_by_id")
	bucketUsersByLogin = []byte("users_by_login") // login -> id (big-endian uint64)
	bucketUsersByToken = []byte("users_by_token") // token hash -> id (big-endian uint64)
	bucketOwners       = []byte("owners")         // name -> json []int64
	bucketMirror       = []byte("mirror")         // "name\x00vers" -> json MirrorEntry
	bucketKnownNames   = []byte("known_names")    // name -> []byte{1}
	bucketDescriptions = []byte("descriptions")   // name -> description text
	bucketCounters     = []byte("counters")       // "user_id" -> next id, big-endian uint64
)

const counterUserID = "user_id"

// Store is a bbolt-backed implementation of metastore.Store.
type Store struct {
	db *bolt.DB
}

var _ metastore.Store = (*Store)(nil)

// Open opens (creating if necessary) a bbolt database at path and
// ensures every bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "open bolt database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketUsersByID, bucketUsersByLogin, bucketUsersByToken, bucketOwners,
			bucketMirror, bucketKnownNames, bucketDescriptions, bucketCounters,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, registryerrors.Wrap(registryerrors.IoError, "initialize bolt buckets", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func mirrorKey(name, vers string) []byte {
	return []byte(strings.ToLower(name) + "\x00" + vers)
}

func (s *Store) UserByLogin(_ context.Context, login string) (domain.User, error) {
	var user domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketUsersByLogin).Get([]byte(strings.ToLower(login)))
		if idBytes == nil {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user %q not found", login))
		}
		data := tx.Bucket(bucketUsersByID).Get(idBytes)
		if data == nil {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user %q not found", login))
		}
		return json.Unmarshal(data, &user)
	})
	return user, err
}

func (s *Store) UserByID(_ context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsersByID).Get(idKey(id))
		if data == nil {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user id %d not found", id))
		}
		return json.Unmarshal(data, &user)
	})
	return user, err
}

func (s *Store) UserByTokenHash(_ context.Context, tokenHash string) (domain.User, error) {
	var user domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketUsersByToken).Get([]byte(tokenHash))
		if idBytes == nil {
			return registryerrors.New(registryerrors.NotFound, "no user holds that token")
		}
		data := tx.Bucket(bucketUsersByID).Get(idBytes)
		if data == nil {
			return registryerrors.New(registryerrors.NotFound, "no user holds that token")
		}
		return json.Unmarshal(data, &user)
	})
	return user, err
}

func (s *Store) PutUser(_ context.Context, user domain.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		logins := tx.Bucket(bucketUsersByLogin)
		key := []byte(strings.ToLower(user.Login))
		if logins.Get(key) != nil {
			return registryerrors.New(registryerrors.AlreadyExists, fmt.Sprintf("user %q already exists", user.Login))
		}
		data, err := json.Marshal(user)
		if err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "marshal user", err)
		}
		if err := tx.Bucket(bucketUsersByID).Put(idKey(user.ID), data); err != nil {
			return err
		}
		if err := logins.Put(key, idKey(user.ID)); err != nil {
			return err
		}
		if user.TokenHash != "" {
			if err := tx.Bucket(bucketUsersByToken).Put([]byte(user.TokenHash), idKey(user.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateUser(ctx context.Context, id int64, f metastore.UpdateFunc) (domain.User, error) {
	var updated domain.User
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsersByID)
		data := users.Get(idKey(id))
		if data == nil {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user id %d not found", id))
		}
		var current domain.User
		if err := json.Unmarshal(data, &current); err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "unmarshal user", err)
		}
		next, err := f(current)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "marshal user", err)
		}
		updated = next
		if err := users.Put(idKey(id), encoded); err != nil {
			return err
		}
		if next.TokenHash != current.TokenHash {
			tokens := tx.Bucket(bucketUsersByToken)
			if current.TokenHash != "" {
				if err := tokens.Delete([]byte(current.TokenHash)); err != nil {
					return err
				}
			}
			if next.TokenHash != "" {
				if err := tokens.Put([]byte(next.TokenHash), idKey(id)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return updated, err
}

func (s *Store) NextUserID(_ context.Context) (int64, error) {
	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		counters := tx.Bucket(bucketCounters)
		current := counters.Get([]byte(counterUserID))
		var id uint64
		if current != nil {
			id = binary.BigEndian.Uint64(current)
		}
		id++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, id)
		next = int64(id)
		return counters.Put([]byte(counterUserID), buf)
	})
	return next, err
}

func (s *Store) Owners(_ context.Context, name string) (map[int64]struct{}, error) {
	result := make(map[int64]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOwners).Get([]byte(strings.ToLower(name)))
		if data == nil {
			return nil
		}
		var ids []int64
		if err := json.Unmarshal(data, &ids); err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "unmarshal owners", err)
		}
		for _, id := range ids {
			result[id] = struct{}{}
		}
		return nil
	})
	return result, err
}

func (s *Store) AddOwners(_ context.Context, name string, ids []int64) error {
	key := []byte(strings.ToLower(name))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOwners)
		set := map[int64]struct{}{}
		if data := b.Get(key); data != nil {
			var existing []int64
			if err := json.Unmarshal(data, &existing); err != nil {
				return registryerrors.Wrap(registryerrors.Internal, "unmarshal owners", err)
			}
			for _, id := range existing {
				set[id] = struct{}{}
			}
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return putOwnerSet(b, key, set)
	})
}

func (s *Store) RemoveOwners(_ context.Context, name string, ids []int64) error {
	key := []byte(strings.ToLower(name))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOwners)
		set := map[int64]struct{}{}
		if data := b.Get(key); data != nil {
			var existing []int64
			if err := json.Unmarshal(data, &existing); err != nil {
				return registryerrors.Wrap(registryerrors.Internal, "unmarshal owners", err)
			}
			for _, id := range existing {
				set[id] = struct{}{}
			}
		}
		for _, id := range ids {
			delete(set, id)
		}
		if len(set) == 0 {
			return registryerrors.New(registryerrors.LastOwner, fmt.Sprintf("cannot remove last owner of %q", name))
		}
		return putOwnerSet(b, key, set)
	})
}

func putOwnerSet(b *bolt.Bucket, key []byte, set map[int64]struct{}) error {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal owners", err)
	}
	return b.Put(key, data)
}

func (s *Store) MirrorGet(_ context.Context, name, vers string) (domain.MirrorEntry, error) {
	var entry domain.MirrorEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMirror).Get(mirrorKey(name, vers))
		if data == nil {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("mirror entry %s@%s not found", name, vers))
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

func (s *Store) MirrorPut(_ context.Context, entry domain.MirrorEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "marshal mirror entry", err)
		}
		return tx.Bucket(bucketMirror).Put(mirrorKey(entry.Name, entry.Vers), data)
	})
}

func (s *Store) MirrorEvict(_ context.Context, name, vers string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMirror).Delete(mirrorKey(name, vers))
	})
}

func (s *Store) KnownNames(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKnownNames).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *Store) AddKnownName(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKnownNames).Put([]byte(strings.ToLower(name)), []byte{1})
	})
}

func (s *Store) SetDescription(_ context.Context, name, description string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDescriptions).Put([]byte(strings.ToLower(name)), []byte(description))
	})
}

func (s *Store) Description(_ context.Context, name string) (string, error) {
	var description string
	err := s.db.View(func(tx *bolt.Tx) error {
		description = string(tx.Bucket(bucketDescriptions).Get([]byte(strings.ToLower(name))))
		return nil
	})
	return description, err
}
