package dynamostore_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore/dynamostore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// fakeDDB is an in-memory stand-in for the DynamoDB client, in the
// spirit of dolthub-dolt's store/nbs fakeDDB test double.
type fakeDDB struct {
	t     *testing.T
	items map[string]map[string]map[string]types.AttributeValue // table -> pk -> item
}

func newFakeDDB(t *testing.T) *fakeDDB {
	return &fakeDDB{t: t, items: map[string]map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDDB) table(name string) map[string]map[string]types.AttributeValue {
	if f.items[name] == nil {
		f.items[name] = map[string]map[string]types.AttributeValue{}
	}
	return f.items[name]
}

func pkOf(item map[string]types.AttributeValue) string {
	v, ok := item["pk"].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["pk"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.table(*in.TableName)[key]}, nil
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.table(*in.TableName)[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	key := in.Key["pk"].(*types.AttributeValueMemberS).Value
	table := f.table(*in.TableName)
	var seq int64
	if existing, ok := table[key]; ok {
		if n, ok := existing["seq"].(*types.AttributeValueMemberN); ok {
			seq = parseInt(f.t, n.Value)
		}
	}
	seq++
	item := map[string]types.AttributeValue{
		"pk":  &types.AttributeValueMemberS{Value: key},
		"seq": &types.AttributeValueMemberN{Value: formatInt(seq)},
	}
	table[key] = item
	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["pk"].(*types.AttributeValueMemberS).Value
	delete(f.table(*in.TableName), key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDDB) Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	table := f.table(*in.TableName)
	items := make([]map[string]types.AttributeValue, 0, len(table))
	for _, item := range table {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func parseInt(t *testing.T, s string) int64 {
	t.Helper()
	var n int64
	for _, c := range s {
		n = n*10 + int64(c-'0')
	}
	return n
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newStore(t *testing.T) *dynamostore.Store {
	t.Helper()
	return dynamostore.New(newFakeDDB(t), "test_registry")
}

func TestPutAndLookupUser(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutUser(ctx, domain.User{ID: 1, Login: "alice", PasswordHash: "h"}))

	byLogin, err := s.UserByLogin(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), byLogin.ID)

	byID, err := s.UserByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Login)

	err = s.PutUser(ctx, domain.User{ID: 2, Login: "alice"})
	require.True(t, registryerrors.Is(err, registryerrors.AlreadyExists))
}

func TestUserByTokenHash(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutUser(ctx, domain.User{ID: 1, Login: "alice", TokenHash: "tok1"}))

	user, err := s.UserByTokenHash(ctx, "tok1")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Login)

	_, err = s.UserByTokenHash(ctx, "nope")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
}

func TestUpdateUserDeletesStaleTokenIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutUser(ctx, domain.User{ID: 1, Login: "alice", TokenHash: "tok1"}))

	_, err := s.UpdateUser(ctx, 1, func(current domain.User) (domain.User, error) {
		current.TokenHash = "tok2"
		return current, nil
	})
	require.NoError(t, err)

	_, err = s.UserByTokenHash(ctx, "tok1")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
	user, err := s.UserByTokenHash(ctx, "tok2")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)
}

func TestSetAndGetDescription(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	description, err := s.Description(ctx, "widget")
	require.NoError(t, err)
	require.Empty(t, description)

	require.NoError(t, s.SetDescription(ctx, "widget", "a fine widget"))
	description, err = s.Description(ctx, "Widget")
	require.NoError(t, err)
	require.Equal(t, "a fine widget", description)
}

func TestNextUserIDMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first, err := s.NextUserID(ctx)
	require.NoError(t, err)
	second, err := s.NextUserID(ctx)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestOwnersLastOwnerInvariant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.AddOwners(ctx, "foo", []int64{1, 2}))
	owners, err := s.Owners(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, owners, 2)

	require.NoError(t, s.RemoveOwners(ctx, "foo", []int64{1}))
	owners, err = s.Owners(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, owners, 1)

	err = s.RemoveOwners(ctx, "foo", []int64{2})
	require.True(t, registryerrors.Is(err, registryerrors.LastOwner))
}

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.MirrorPut(ctx, domain.MirrorEntry{Name: "rand", Vers: "0.8.5", Cksum: "abc"}))
	entry, err := s.MirrorGet(ctx, "rand", "0.8.5")
	require.NoError(t, err)
	require.Equal(t, "abc", entry.Cksum)

	require.NoError(t, s.MirrorEvict(ctx, "rand", "0.8.5"))
	_, err = s.MirrorGet(ctx, "rand", "0.8.5")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
}

func TestKnownNames(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AddKnownName(ctx, "Foo"))
	require.NoError(t, s.AddKnownName(ctx, "bar"))

	names, err := s.KnownNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo", "bar"}, names)
}
