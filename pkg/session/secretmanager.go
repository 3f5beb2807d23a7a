package session

import (
	"context"
	"encoding/json"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SecretManagerBackend stores the session as versions of a single secret.
// Each save adds a new version; load reads the latest.
type SecretManagerBackend struct {
	client *secretmanager.Client
	// secret is the full resource name, e.g. projects/p/secrets/wa-session.
	secret string
}

func NewSecretManagerBackend(ctx context.Context, secret string) (*SecretManagerBackend, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secretmanager client: %w", err)
	}
	return &SecretManagerBackend{client: client, secret: secret}, nil
}

func (b *SecretManagerBackend) Name() string { return "Secret Manager" }

func (b *SecretManagerBackend) Load(ctx context.Context) (*Data, error) {
	resp, err := b.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: b.secret + "/versions/latest",
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("access %s: %w", b.secret, err)
	}

	var data Data
	if err := json.Unmarshal(resp.GetPayload().GetData(), &data); err != nil {
		return nil, fmt.Errorf("malformed session secret: %w", err)
	}
	return &data, nil
}

func (b *SecretManagerBackend) Save(ctx context.Context, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = b.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  b.secret,
		Payload: &secretmanagerpb.SecretPayload{Data: raw},
	})
	if err != nil {
		return fmt.Errorf("add version to %s: %w", b.secret, err)
	}
	return nil
}

func (b *SecretManagerBackend) Close() error {
	return b.client.Close()
}
