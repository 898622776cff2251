// Package dynamostore implements the registry's metadata store contract
// on a document store (github.com/aws/aws-sdk-go-v2/service/dynamodb),
// one table per entity collection, grounded on dolthub-dolt's nbs
// package use of a DynamoDB-backed manifest/chunk store (dolt targets
// the v1 SDK; this package follows the module's declared v2 client
// instead, per DESIGN.md).
package dynamostore

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// api is the subset of the DynamoDB client this package calls, narrowed
// so tests can substitute a fake (mirrors gitcreds' secretsManagerAPI
// pattern).
type api interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is a DynamoDB-backed implementation of metastore.Store. Every
// entity collection lives in its own table, named tablePrefix+suffix,
// so a single AWS account can host multiple registry instances behind
// distinct prefixes.
type Store struct {
	client api
	prefix string
}

var _ metastore.Store = (*Store)(nil)

const (
	tableUsers   = "users"
	tableOwners  = "owners"
	tableMirror  = "mirror"
	tableNames   = "known_names"
	tableCounter = "counters"
)

func (s *Store) table(suffix string) string { return s.prefix + "_" + suffix }

// New wraps an already-configured client under tablePrefix.
func New(client api, tablePrefix string) *Store {
	return &Store{client: client, prefix: tablePrefix}
}

func (s *Store) Close() error { return nil }

type userItem struct {
	PK           string `dynamodbav:"pk"` // "login#<lowercased login>" or "id#<id>"
	ID           int64  `dynamodbav:"id"`
	Login        string `dynamodbav:"login"`
	PasswordHash string `dynamodbav:"password_hash"`
	TokenHash    string `dynamodbav:"token_hash"`
}

func loginPK(login string) string     { return "login#" + strings.ToLower(login) }
func idPK(id int64) string            { return fmt.Sprintf("id#%d", id) }
func tokenPK(tokenHash string) string { return "token#" + tokenHash }

func (s *Store) getUserItem(ctx context.Context, pk string) (*userItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(tableUsers)),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
	})
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "get user item", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, registryerrors.Wrap(registryerrors.Internal, "unmarshal user item", err)
	}
	return &item, nil
}

func (s *Store) UserByLogin(ctx context.Context, login string) (domain.User, error) {
	item, err := s.getUserItem(ctx, loginPK(login))
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user %q not found", login))
	}
	return s.UserByID(ctx, item.ID)
}

func (s *Store) UserByTokenHash(ctx context.Context, tokenHash string) (domain.User, error) {
	item, err := s.getUserItem(ctx, tokenPK(tokenHash))
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, "no user holds that token")
	}
	return s.UserByID(ctx, item.ID)
}

func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	item, err := s.getUserItem(ctx, idPK(id))
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, registryerrors.New(registryerrors.NotFound, fmt.Sprintf("user id %d not found", id))
	}
	return domain.User{ID: item.ID, Login: item.Login, PasswordHash: item.PasswordHash, TokenHash: item.TokenHash}, nil
}

func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	existing, err := s.getUserItem(ctx, loginPK(user.Login))
	if err != nil {
		return err
	}
	if existing != nil {
		return registryerrors.New(registryerrors.AlreadyExists, fmt.Sprintf("user %q already exists", user.Login))
	}

	byLogin, err := attributevalue.MarshalMap(userItem{
		PK: loginPK(user.Login), ID: user.ID, Login: user.Login,
		PasswordHash: user.PasswordHash, TokenHash: user.TokenHash,
	})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
	}
	byID, err := attributevalue.MarshalMap(userItem{
		PK: idPK(user.ID), ID: user.ID, Login: user.Login,
		PasswordHash: user.PasswordHash, TokenHash: user.TokenHash,
	})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
	}

	table := aws.String(s.table(tableUsers))
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byLogin}); err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put user by login", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byID}); err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put user by id", err)
	}
	if user.TokenHash != "" {
		byToken, err := attributevalue.MarshalMap(userItem{
			PK: tokenPK(user.TokenHash), ID: user.ID, Login: user.Login,
			PasswordHash: user.PasswordHash, TokenHash: user.TokenHash,
		})
		if err != nil {
			return registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byToken}); err != nil {
			return registryerrors.Wrap(registryerrors.IoError, "put user by token", err)
		}
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, f metastore.UpdateFunc) (domain.User, error) {
	current, err := s.UserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	next, err := f(current)
	if err != nil {
		return domain.User{}, err
	}

	byID, err := attributevalue.MarshalMap(userItem{
		PK: idPK(id), ID: next.ID, Login: next.Login,
		PasswordHash: next.PasswordHash, TokenHash: next.TokenHash,
	})
	if err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
	}
	byLogin, err := attributevalue.MarshalMap(userItem{
		PK: loginPK(next.Login), ID: next.ID, Login: next.Login,
		PasswordHash: next.PasswordHash, TokenHash: next.TokenHash,
	})
	if err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
	}

	table := aws.String(s.table(tableUsers))
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byID}); err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "put updated user by id", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byLogin}); err != nil {
		return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "put updated user by login", err)
	}
	if next.TokenHash != current.TokenHash {
		if current.TokenHash != "" {
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: table,
				Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: tokenPK(current.TokenHash)}},
			})
			if err != nil {
				return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "delete stale user token index", err)
			}
		}
		if next.TokenHash != "" {
			byToken, err := attributevalue.MarshalMap(userItem{
				PK: tokenPK(next.TokenHash), ID: next.ID, Login: next.Login,
				PasswordHash: next.PasswordHash, TokenHash: next.TokenHash,
			})
			if err != nil {
				return domain.User{}, registryerrors.Wrap(registryerrors.Internal, "marshal user item", err)
			}
			if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: table, Item: byToken}); err != nil {
				return domain.User{}, registryerrors.Wrap(registryerrors.IoError, "put updated user by token", err)
			}
		}
	}
	return next, nil
}

func (s *Store) NextUserID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table(tableCounter)),
		Key:              map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: "user_id"}},
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, registryerrors.Wrap(registryerrors.IoError, "increment user id counter", err)
	}
	var result struct {
		Seq int64 `dynamodbav:"seq"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &result); err != nil {
		return 0, registryerrors.Wrap(registryerrors.Internal, "unmarshal counter result", err)
	}
	return result.Seq, nil
}

type ownerItem struct {
	PK  string  `dynamodbav:"pk"`
	IDs []int64 `dynamodbav:"ids"`
}

func (s *Store) Owners(ctx context.Context, name string) (map[int64]struct{}, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(tableOwners)),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: strings.ToLower(name)}},
	})
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "get owners item", err)
	}
	result := make(map[int64]struct{})
	if out.Item == nil {
		return result, nil
	}
	var item ownerItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, registryerrors.Wrap(registryerrors.Internal, "unmarshal owners item", err)
	}
	for _, id := range item.IDs {
		result[id] = struct{}{}
	}
	return result, nil
}

func (s *Store) putOwnerSet(ctx context.Context, name string, set map[int64]struct{}) error {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	item, err := attributevalue.MarshalMap(ownerItem{PK: strings.ToLower(name), IDs: ids})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal owners item", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table(tableOwners)), Item: item})
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put owners item", err)
	}
	return nil
}

func (s *Store) AddOwners(ctx context.Context, name string, ids []int64) error {
	current, err := s.Owners(ctx, name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		current[id] = struct{}{}
	}
	return s.putOwnerSet(ctx, name, current)
}

func (s *Store) RemoveOwners(ctx context.Context, name string, ids []int64) error {
	current, err := s.Owners(ctx, name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(current, id)
	}
	if len(current) == 0 {
		return registryerrors.New(registryerrors.LastOwner, fmt.Sprintf("cannot remove last owner of %q", name))
	}
	return s.putOwnerSet(ctx, name, current)
}

type mirrorItem struct {
	PK       string `dynamodbav:"pk"`
	Name     string `dynamodbav:"name"`
	Vers     string `dynamodbav:"vers"`
	BlobPath string `dynamodbav:"blob_path"`
	Cksum    string `dynamodbav:"cksum"`
	CachedAt int64  `dynamodbav:"cached_at"`
}

func mirrorPK(name, vers string) string { return strings.ToLower(name) + "#" + vers }

func (s *Store) MirrorGet(ctx context.Context, name, vers string) (domain.MirrorEntry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(tableMirror)),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: mirrorPK(name, vers)}},
	})
	if err != nil {
		return domain.MirrorEntry{}, registryerrors.Wrap(registryerrors.IoError, "get mirror item", err)
	}
	if out.Item == nil {
		return domain.MirrorEntry{}, registryerrors.New(registryerrors.NotFound,
			fmt.Sprintf("mirror entry %s@%s not found", name, vers))
	}
	var item mirrorItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.MirrorEntry{}, registryerrors.Wrap(registryerrors.Internal, "unmarshal mirror item", err)
	}
	return domain.MirrorEntry{Name: item.Name, Vers: item.Vers, BlobPath: item.BlobPath, Cksum: item.Cksum, CachedAt: item.CachedAt}, nil
}

func (s *Store) MirrorPut(ctx context.Context, entry domain.MirrorEntry) error {
	item, err := attributevalue.MarshalMap(mirrorItem{
		PK: mirrorPK(entry.Name, entry.Vers), Name: entry.Name, Vers: entry.Vers,
		BlobPath: entry.BlobPath, Cksum: entry.Cksum, CachedAt: entry.CachedAt,
	})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal mirror item", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table(tableMirror)), Item: item})
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put mirror item", err)
	}
	return nil
}

func (s *Store) MirrorEvict(ctx context.Context, name, vers string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table(tableMirror)),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: mirrorPK(name, vers)}},
	})
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "delete mirror item", err)
	}
	return nil
}

type nameItem struct {
	PK          string `dynamodbav:"pk"`
	Description string `dynamodbav:"description"`
}

func (s *Store) KnownNames(ctx context.Context) ([]string, error) {
	var names []string
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(s.table(tableNames))})
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "scan known names table", err)
	}
	for _, rawItem := range out.Items {
		var item nameItem
		if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
			return nil, registryerrors.Wrap(registryerrors.Internal, "unmarshal known name item", err)
		}
		names = append(names, item.PK)
	}
	return names, nil
}

func (s *Store) AddKnownName(ctx context.Context, name string) error {
	item, err := attributevalue.MarshalMap(nameItem{PK: strings.ToLower(name)})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal known name item", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table(tableNames)), Item: item})
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put known name item", err)
	}
	return nil
}

func (s *Store) SetDescription(ctx context.Context, name, description string) error {
	item, err := attributevalue.MarshalMap(nameItem{PK: strings.ToLower(name), Description: description})
	if err != nil {
		return registryerrors.Wrap(registryerrors.Internal, "marshal known name item", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table(tableNames)), Item: item})
	if err != nil {
		return registryerrors.Wrap(registryerrors.IoError, "put known name description", err)
	}
	return nil
}

func (s *Store) Description(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(tableNames)),
		Key:       map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: strings.ToLower(name)}},
	})
	if err != nil {
		return "", registryerrors.Wrap(registryerrors.IoError, "get known name item", err)
	}
	if out.Item == nil {
		return "", nil
	}
	var item nameItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", registryerrors.Wrap(registryerrors.Internal, "unmarshal known name item", err)
	}
	return item.Description, nil
}
