package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// GCPConfig configures Google Secret Manager access.
type GCPConfig struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

type secretVersionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// gcpClient drops the call options so tests can fake the accessor.
type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return g.c.AccessSecretVersion(ctx, req)
}

func (g gcpClient) Close() error {
	return g.c.Close()
}

type gcpProvider struct {
	client  secretVersionAccessor
	project string
}

func newGCPProvider(ctx context.Context, cfg GCPConfig) (provider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("secrets: gcp provider requires project id")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create gcp secret manager client: %w", err)
	}
	return &gcpProvider{client: gcpClient{c: client}, project: cfg.ProjectID}, nil
}

func (g *gcpProvider) Name() ProviderType {
	return ProviderGCP
}

func (g *gcpProvider) Close() error {
	return g.client.Close()
}

func (g *gcpProvider) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	name := g.versionName(ref)

	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: gcp fetch failed for %s: %w", ref.Path, err)
	}

	data := map[string]string{}
	if payload := resp.GetPayload(); payload != nil {
		data = decodePayload(payload.GetData())
	}
	return Secret{Data: data, Metadata: Metadata{Version: resp.GetName()}}, nil
}

// versionName expands a short secret id into a full version resource name.
// Full "projects/..." paths are used as given.
func (g *gcpProvider) versionName(ref Reference) string {
	if strings.HasPrefix(ref.Path, "projects/") {
		return ref.Path
	}
	version := ref.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", g.project, strings.Trim(ref.Path, "/"), version)
}
