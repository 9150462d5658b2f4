// Package secrets resolves runtime pricing parameters kept outside the codebase.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrMissingMultiplier is returned when the secret has no usable multiplier.
var ErrMissingMultiplier = errors.New("rush hour multiplier missing from secret")

// MultiplierProvider returns the current rush-hour multiplier.
type MultiplierProvider interface {
	RushHourMultiplier(ctx context.Context) (float64, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type multiplierSecret struct {
	RushHourMultiplier *float64 `json:"rushHourMultiplier"`
}

// SecretsManagerProvider reads the multiplier from a JSON secret.
type SecretsManagerProvider struct {
	client     SecretsManagerAPI
	secretName string
}

// NewSecretsManagerProvider creates a new SecretsManagerProvider.
func NewSecretsManagerProvider(client SecretsManagerAPI, secretName string) *SecretsManagerProvider {
	return &SecretsManagerProvider{client: client, secretName: secretName}
}

// RushHourMultiplier fetches and parses the secret.
func (p *SecretsManagerProvider) RushHourMultiplier(ctx context.Context) (float64, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		return 0, fmt.Errorf("get secret %s: %w", p.secretName, err)
	}

	var secret multiplierSecret
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &secret); err != nil {
		return 0, fmt.Errorf("parse secret %s: %w", p.secretName, err)
	}
	if secret.RushHourMultiplier == nil {
		return 0, ErrMissingMultiplier
	}

	return *secret.RushHourMultiplier, nil
}

// StaticProvider always returns the same multiplier.
type StaticProvider float64

// RushHourMultiplier returns the fixed value.
func (s StaticProvider) RushHourMultiplier(context.Context) (float64, error) {
	return float64(s), nil
}

// CachedProvider memoises another provider for a fixed TTL. Errors are not cached.
type CachedProvider struct {
	next MultiplierProvider
	ttl  time.Duration
	now  func() time.Time

	mu        sync.Mutex
	value     float64
	fetchedAt time.Time
}

// NewCachedProvider creates a new CachedProvider.
func NewCachedProvider(next MultiplierProvider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, ttl: ttl, now: time.Now}
}

// RushHourMultiplier returns the cached value while fresh.
func (c *CachedProvider) RushHourMultiplier(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	v, err := c.next.RushHourMultiplier(ctx)
	if err != nil {
		return 0, err
	}
	c.value = v
	c.fetchedAt = c.now()
	return v, nil
}
