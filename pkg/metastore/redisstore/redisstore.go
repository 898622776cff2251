// Package redisstore implements the registry's metadata store contract
// on a networked in-memory KV (github.com/redis/go-redis/v9), mapping
// entities onto redis hashes, sets, and counters. The dependency choice
// follows storj-storj's go-redis usage; see DESIGN.md for the v6->v9
// module note.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// Store is a redis-backed implementation of metastore.Store.
type Store struct {
	client *redis.Client
}

var _ metastore.Store = (*Store)(nil)

// New wraps an already-constructed redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open dials addr and returns a Store, failing if the initial PING does
// not succeed.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "connect to redis", err)
	}
	return New(client), nil
}

func (s *Store) Close() error { return s.client.Close() }

const (
	keyUserByLoginPrefix = "registry:user_login:"
	keyUserByTokenPrefix = "registry:user_token:"
	keyUserHashPrefix    = "registry:user:"
	keyOwnersPrefix      = "registry:owners:"
	keyMirrorPrefix      = "registry:mirror:"
	keyKnownNames        = "registry:known_names"
	keyUserIDSeq         = "registry:user_id_seq"
	keyDescriptionPrefix = "registry:description:"
)

func descriptionKey(name string) string { return keyDescriptionPrefix + strings.ToLower(name) }

func userHashKey(id int64) string { return keyUserHashPrefix + strconv.FormatInt(id, 10) }
func loginKey(login string) string {
	return keyUserByLoginPrefix + strings.ToLower(login)
}
func tokenKey(tokenHash string) string { return keyUserByTokenPrefix + tokenHash }

func (s *Store) UserByLogin(ctx context.Context, login string) (domain.User, error) {
	idStr, err := s.client.Get(ctx, loginKey(login)).Result()
	if err == redis.Nil {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user %q not found", login))
	}
	if err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "lookup login", err)
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return s.UserByID(ctx, id)
}

func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	fields, err := s.client.HGetAll(ctx, userHashKey(id)).Result()
	if err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "get user hash", err)
	}
	if len(fields) == 0 {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user id %d not found", id))
	}
	return userFromFields(id, fields), nil
}

func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (domain.User, error) {
	idStr, err := s.client.Get(ctx, tokenKey(tokenHash)).Result()
	if err == redis.Nil {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, "no user holds that token")
	}
	if err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "lookup token", err)
	}
	id, _ := strconv.ParseInt(idStr, 10, 64)
	return s.UserByID(ctx, id)
}

func userFromFields(id int64, fields map[string]string) domain.User {
	return domain.User{
		ID:           id,
		Login:        fields["login"],
		PasswordHash: fields["password_hash"],
		TokenHash:    fields["token_hash"],
	}
}

func userFields(u domain.User) map[string]interface{} {
	return map[string]interface{}{
		"login":         u.Login,
		"password_hash": u.PasswordHash,
		"token_hash":    u.TokenHash,
	}
}

func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	ok, err := s.client.SetNX(ctx, loginKey(user.Login), strconv.FormatInt(user.ID, 10), 0).Result()
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "reserve login", err)
	}
	if !ok {
		return registryerrors.New(registryerrors.AlreadyExists, fmt.Sprintf("user %q already exists", user.Login))
	}
	if err := s.client.HSet(ctx, userHashKey(user.ID), userFields(user)).Err(); err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "write user hash", err)
	}
	if user.TokenHash != "" {
		if err := s.client.Set(ctx, tokenKey(user.TokenHash), strconv.FormatInt(user.ID, 10), 0).Err(); err != nil {
			return registryerrors.Wrap(registryerrors.IoError, "index user token", err)
		}
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, f metastore.UpdateFunc) (domain.User, error) {
	var updated domain.User
	key := userHashKey(id)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return registryerrors.Wrap(registryerrors.IoError, "get user hash", err)
		}
		if len(fields) == 0 {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user id %d not found", id))
		}
		current := userFromFields(id, fields)
		next, err := f(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, userFields(next))
			if next.TokenHash != current.TokenHash {
				if current.TokenHash != "" {
					pipe.Del(ctx, tokenKey(current.TokenHash))
				}
				if next.TokenHash != "" {
					pipe.Set(ctx, tokenKey(next.TokenHash), strconv.FormatInt(id, 10), 0)
				}
			}
			return nil
		})
		if err != nil {
			return registryerrors.Wrap(registryerrors.IoError, "write updated user hash", err)
		}
		updated = next
		return nil
	}
	for {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer changed the user hash after WATCH; re-read and retry.
			continue
		}
		return updated, err
	}
}

func (s *Store) NextUserID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, keyUserIDSeq).Result()
	if err != nil {
		return 0, registryerrors.Wrap(registryerrors.IoError, "increment user id sequence", err)
	}
	return id, nil
}

func (s *Store) Owners(ctx context.Context, name string) (map[int64]struct{}, error) {
	members, err := s.client.SMembers(ctx, keyOwnersPrefix+strings.ToLower(name)).Result()
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "get owners set", err)
	}
	result := make(map[int64]struct{}, len(members))
	for _, m := range members {
		id, _ := strconv.ParseInt(m, 10, 64)
		result[id] = struct{}{}
	}
	return result, nil
}

func (s *Store) AddOwners(ctx context.Context, name string, ids []int64) error {
	return s.client.SAdd(ctx, keyOwnersPrefix+strings.ToLower(name), idStrings(ids)...).Err()
}

func (s *Store) RemoveOwners(ctx context.Context, name string, ids []int64) error {
	key := keyOwnersPrefix + strings.ToLower(name)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.SMembers(ctx, key).Result()
		if err != nil {
			return registryerrors.Wrap(registryerrors.IoError, "get owners set", err)
		}
		remaining := make(map[string]struct{}, len(current))
		for _, m := range current {
			remaining[m] = struct{}{}
		}
		for _, id := range ids {
			delete(remaining, strconv.FormatInt(id, 10))
		}
		if len(remaining) == 0 {
			return registryerrors.New(registryerrors.LastOwner, fmt.Sprintf("cannot remove last owner of %q", name))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, key, idStrings(ids))
			return nil
		})
		return err
	}, key)
	return err
}

func idStrings(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func mirrorKey(name, vers string) string {
	return keyMirrorPrefix + strings.ToLower(name) + ":" + vers
}

func (s *Store) MirrorGet(ctx context.Context, name, vers string) (domain.MirrorEntry, error) {
	fields, err := s.client.HGetAll(ctx, mirrorKey(name, vers)).Result()
	if err != nil {
		return domain.MirrorEntry{}, registryerrors.Wrap(registryerrors.IoError, "get mirror entry", err)
	}
	if len(fields) == 0 {
		return domain.MirrorEntry{}, registryerrors.New(registryerrors.NotFound,
			fmt.Sprintf("mirror entry %s@%s not found", name, vers))
	}
	cachedAt, _ := strconv.ParseInt(fields["cached_at"], 10, 64)
	return domain.MirrorEntry{
		Name: name, Vers: vers,
		BlobPath: fields["blob_path"], Cksum: fields["cksum"], CachedAt: cachedAt,
	}, nil
}

func (s *Store) MirrorPut(ctx context.Context, entry domain.MirrorEntry) error {
	return s.client.HSet(ctx, mirrorKey(entry.Name, entry.Vers), map[string]interface{}{
		"blob_path": entry.BlobPath,
		"cksum":     entry.Cksum,
		"cached_at": entry.CachedAt,
	}).Err()
}

func (s *Store) MirrorEvict(ctx context.Context, name, vers string) error {
	return s.client.Del(ctx, mirrorKey(name, vers)).Err()
}

func (s *Store) KnownNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, keyKnownNames).Result()
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "get known names set", err)
	}
	return names, nil
}

func (s *Store) AddKnownName(ctx context.Context, name string) error {
	return s.client.SAdd(ctx, keyKnownNames, strings.ToLower(name)).Err()
}

func (s *Store) SetDescription(ctx context.Context, name, description string) error {
	return s.client.Set(ctx, descriptionKey(name), description, 0).Err()
}

func (s *Store) Description(ctx context.Context, name string) (string, error) {
	description, err := s.client.Get(ctx, descriptionKey(name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "get description", err)
	}
	return description, nil
}
