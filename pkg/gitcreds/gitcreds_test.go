package gitcreds_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/gitcreds"
)

func TestStaticSourceHTTPSBasicAuth(t *testing.T) {
	src := gitcreds.NewStaticSource(gitcreds.Credential{Username: "registry", Password: "hunter2"})
	provider := gitcreds.New(domain.CredentialModeHTTPSBasic, src)

	method, err := provider.Method("https://git.example.com/index.git")
	require.NoError(t, err)

	basic, ok := method.(*githttp.BasicAuth)
	require.True(t, ok)
	require.Equal(t, "registry", basic.Username)
	require.Equal(t, "hunter2", basic.Password)
}

type fakeSecretsManager struct {
	value string
	calls int
}

func (f *fakeSecretsManager) GetSecretValue(
	_ context.Context,
	_ *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestAWSSourceCachesWithinTTL(t *testing.T) {
	fake := &fakeSecretsManager{value: `{"username":"registry","password":"s3cr3t"}`}
	src := gitcreds.NewAWSSource(fake, "registry/git-creds", time.Minute)

	cred, err := src.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "registry", cred.Username)
	require.Equal(t, "s3cr3t", cred.Password)

	_, err = src.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls)
}

func TestCredentialClearZeroesSecrets(t *testing.T) {
	cred := &gitcreds.Credential{Password: "x", Passphrase: "y", PrivateKeyPEM: []byte("key")}
	cred.Clear()
	require.Empty(t, cred.Password)
	require.Empty(t, cred.Passphrase)
	require.Nil(t, cred.PrivateKeyPEM)
}
