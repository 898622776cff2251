package gitcreds

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretsManagerAPI is the subset of the AWS Secrets Manager client used
// here, mirroring services/aws/secrets/interfaces.go's ManagerAPI so a
// mock can stand in for tests.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretPayload is the JSON shape stored in the Secrets Manager entry:
// either HTTPS credentials or an SSH key, depending on the configured
// CredentialMode.
type secretPayload struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	PrivateKeyPEM string `json:"private_key_pem"`
	Passphrase    string `json:"passphrase"`
}

// AWSSource resolves credentials from AWS Secrets Manager, caching the
// decoded value for TTL so every git operation does not round-trip to
// Secrets Manager. Grounded on services/aws/secrets/client.go's caching
// Client, trimmed to the single GetSecretValue path this package needs.
type AWSSource struct {
	api      secretsManagerAPI
	secretID string
	ttl      time.Duration

	mu        sync.Mutex
	cached    *Credential
	cachedAt  time.Time
}

// NewAWSSource builds an AWSSource reading secretID, caching the decoded
// value for ttl (zero disables caching).
func NewAWSSource(api secretsManagerAPI, secretID string, ttl time.Duration) *AWSSource {
	return &AWSSource{api: api, secretID: secretID, ttl: ttl}
}

func (s *AWSSource) Resolve(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.ttl > 0 && time.Since(s.cachedAt) < s.ttl {
		c := *s.cached
		return &c, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("gitcreds: fetch secret %q: %w", s.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("gitcreds: secret %q has no string value", s.secretID)
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return nil, fmt.Errorf("gitcreds: decode secret %q: %w", s.secretID, err)
	}

	cred := &Credential{
		Username:      payload.Username,
		Password:      payload.Password,
		PrivateKeyPEM: []byte(payload.PrivateKeyPEM),
		Passphrase:    payload.Passphrase,
	}
	s.cached = cred
	s.cachedAt = time.Now()

	c := *cred
	return &c, nil
}
