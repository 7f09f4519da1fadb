// internal/adapters/out/secrets/secret_provider_sm.go
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

var ErrNotConfigured = errors.New("secrets: secret manager not configured")

// Provider reads secret payloads from Secret Manager.
type Provider struct {
	sm        *secretmanager.Client
	projectID string
}

func NewProvider(sm *secretmanager.Client, projectID string) *Provider {
	return &Provider{sm: sm, projectID: strings.TrimSpace(projectID)}
}

// Name expands a bare secret id to its resource name. Full resource names
// ("projects/.../secrets/...") pass through, with /versions/latest added
// when no version is given.
func (p *Provider) Name(secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("secrets: secret name is empty")
	}
	if strings.HasPrefix(secret, "projects/") {
		if !strings.Contains(secret, "/versions/") {
			secret += "/versions/latest"
		}
		return secret, nil
	}
	if p.projectID == "" {
		return "", errors.New("secrets: projectID is empty")
	}
	return "projects/" + p.projectID + "/secrets/" + secret + "/versions/latest", nil
}

// Access returns the raw payload of secret.
func (p *Provider) Access(ctx context.Context, secret string) ([]byte, error) {
	if p == nil || p.sm == nil {
		return nil, ErrNotConfigured
	}
	name, err := p.Name(secret)
	if err != nil {
		return nil, err
	}
	resp, err := p.sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("secrets: AccessSecretVersion failed (%s): %w", name, err)
	}
	if resp == nil || resp.Payload == nil || len(resp.Payload.Data) == 0 {
		return nil, fmt.Errorf("secrets: empty payload (%s)", name)
	}
	return resp.Payload.Data, nil
}

// AccessString is Access with surrounding whitespace trimmed.
func (p *Provider) AccessString(ctx context.Context, secret string) (string, error) {
	b, err := p.Access(ctx, secret)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
