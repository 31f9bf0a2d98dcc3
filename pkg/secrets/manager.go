package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProviderType enumerates supported secret backends.
type ProviderType string

const (
	ProviderNone       ProviderType = ""
	ProviderVault      ProviderType = "vault"
	ProviderKubernetes ProviderType = "kubernetes"
	ProviderAWS        ProviderType = "aws"
	ProviderGCP        ProviderType = "gcp"
)

// SecretType classifies a secret for audit logs.
type SecretType string

const (
	SecretAPIKey   SecretType = "api_key"
	SecretDatabase SecretType = "database_credentials"
	SecretRedis    SecretType = "redis_credentials"
	SecretCustom   SecretType = "custom"
)

var (
	// ErrProviderNotConfigured is returned when no provider is configured.
	ErrProviderNotConfigured = errors.New("secrets: provider not configured")
	// ErrInvalidReference indicates an invalid or empty reference string.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrKeyNotFound is returned when a requested key does not exist in the secret payload.
	ErrKeyNotFound = errors.New("secrets: key not found")
)

// Reference describes where a secret lives inside a provider.
type Reference struct {
	// Name identifies the secret in logs.
	Name string
	// Path is the provider specific location.
	Path string
	// Mount overrides the Vault mount.
	Mount string
	// Key selects a single entry within the secret.
	Key string
	// Version pins a version when the backend keeps history.
	Version string
	// Provider must match the manager's provider when set.
	Provider ProviderType
	Type     SecretType
}

// CacheKey returns the cache identifier for the reference.
func (r Reference) CacheKey() string {
	sb := strings.Builder{}
	if r.Mount != "" {
		sb.WriteString(r.Mount)
		sb.WriteString("|")
	}
	sb.WriteString(r.Path)
	if r.Version != "" {
		sb.WriteString("@")
		sb.WriteString(r.Version)
	}
	if r.Key != "" {
		sb.WriteString("#")
		sb.WriteString(r.Key)
	}
	return sb.String()
}

// ParseReference converts a raw reference string into a Reference.
// Syntax: [provider://][mount::]path[@version][#key]
func ParseReference(name string, secretType SecretType, raw string) (Reference, error) {
	ref := Reference{Name: name, Type: secretType}

	clean := strings.TrimSpace(raw)
	if clean == "" {
		return ref, ErrInvalidReference
	}

	if idx := strings.Index(clean, "://"); idx > 0 {
		ref.Provider = ProviderType(clean[:idx])
		clean = clean[idx+3:]
	}

	if idx := strings.Index(clean, "#"); idx >= 0 {
		ref.Key = strings.TrimSpace(clean[idx+1:])
		clean = strings.TrimSpace(clean[:idx])
	}

	if idx := strings.Index(clean, "@"); idx >= 0 {
		ref.Version = strings.TrimSpace(clean[idx+1:])
		clean = strings.TrimSpace(clean[:idx])
	}

	ref.Path = strings.Trim(clean, "/")
	if idx := strings.Index(ref.Path, "::"); idx >= 0 {
		ref.Mount = strings.TrimSpace(ref.Path[:idx])
		ref.Path = strings.Trim(ref.Path[idx+2:], "/")
	}

	if ref.Path == "" {
		return ref, ErrInvalidReference
	}
	return ref, nil
}

// Metadata carries provider specific metadata about a secret.
type Metadata struct {
	Version     string
	CreatedAt   time.Time
	RetrievedAt time.Time
}

// Secret is a resolved secret payload.
type Secret struct {
	Data     map[string]string
	Metadata Metadata
}

// Value returns a single non-empty entry from the payload.
func (s Secret) Value(key string) (string, bool) {
	if s.Data == nil {
		return "", false
	}
	val, ok := s.Data[key]
	return val, ok && val != ""
}

// Config is the runtime configuration for a Manager.
type Config struct {
	Provider   ProviderType
	CacheTTL   time.Duration
	Vault      VaultConfig
	Kubernetes KubernetesConfig
	AWS        AWSConfig
	GCP        GCPConfig
	Logger     *zap.Logger
}

// Manager resolves secrets from the configured backend with caching.
type Manager interface {
	GetSecret(ctx context.Context, ref Reference) (Secret, error)
	GetString(ctx context.Context, ref Reference) (string, error)
	Close() error
}

type provider interface {
	Name() ProviderType
	Fetch(ctx context.Context, ref Reference) (Secret, error)
	Close() error
}

type manager struct {
	provider provider
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	secret    Secret
	expiresAt time.Time
}

// NewManager creates a Manager for the configured provider.
func NewManager(cfg Config) (Manager, error) {
	var (
		prov provider
		err  error
	)

	switch cfg.Provider {
	case ProviderNone:
		return nil, ErrProviderNotConfigured
	case ProviderVault:
		prov, err = newVaultProvider(cfg.Vault)
	case ProviderKubernetes:
		prov, err = newKubernetesProvider(cfg.Kubernetes)
	case ProviderAWS, ProviderGCP:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cfg.Provider == ProviderAWS {
			prov, err = newAWSProvider(ctx, cfg.AWS)
		} else {
			prov, err = newGCPProvider(ctx, cfg.GCP)
		}
	default:
		err = fmt.Errorf("secrets: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newManager(prov, cfg.CacheTTL, cfg.Logger), nil
}

func newManager(prov provider, cacheTTL time.Duration, logger *zap.Logger) *manager {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &manager{
		provider: prov,
		cacheTTL: cacheTTL,
		logger:   logger.Named("secrets"),
		now:      time.Now,
		cache:    make(map[string]cachedSecret),
	}
}

func (m *manager) Close() error {
	if m.provider != nil {
		return m.provider.Close()
	}
	return nil
}

// GetSecret resolves the full secret payload for ref.
func (m *manager) GetSecret(ctx context.Context, ref Reference) (Secret, error) {
	if err := m.validateRef(ref); err != nil {
		return Secret{}, err
	}

	if secret, ok := m.loadFromCache(ref); ok {
		return secret, nil
	}

	secret, err := m.provider.Fetch(ctx, ref)
	if err != nil {
		m.logger.Warn("secret fetch failed", append(m.fields(ref), zap.Error(err))...)
		return Secret{}, err
	}

	secret.Metadata.RetrievedAt = m.now().UTC()
	m.saveToCache(ref, secret)
	m.logger.Info("secret fetched", m.fields(ref)...)

	return secret, nil
}

// GetString returns a single value from the referenced secret.
func (m *manager) GetString(ctx context.Context, ref Reference) (string, error) {
	if ref.Key == "" {
		return "", fmt.Errorf("%w: empty key in reference %q", ErrKeyNotFound, ref.Name)
	}

	secret, err := m.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}

	if value, ok := secret.Value(ref.Key); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrKeyNotFound, ref.Key)
}

// Resolve parses raw and returns the single value it points at. A reference
// without a key resolves to the only entry of a single-entry secret.
func Resolve(ctx context.Context, m Manager, name string, secretType SecretType, raw string) (string, error) {
	ref, err := ParseReference(name, secretType, raw)
	if err != nil {
		return "", err
	}
	if ref.Key != "" {
		return m.GetString(ctx, ref)
	}

	secret, err := m.GetSecret(ctx, ref)
	if err != nil {
		return "", err
	}
	if len(secret.Data) != 1 {
		return "", fmt.Errorf("%w: reference %q needs a #key, secret has %d entries", ErrKeyNotFound, name, len(secret.Data))
	}
	for _, v := range secret.Data {
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: reference %q is empty", ErrKeyNotFound, name)
}

func (m *manager) validateRef(ref Reference) error {
	if ref.Path == "" {
		return ErrInvalidReference
	}
	if ref.Provider != ProviderNone && ref.Provider != m.provider.Name() {
		return fmt.Errorf("secrets: reference provider %q does not match manager provider %q", ref.Provider, m.provider.Name())
	}
	return nil
}

func (m *manager) loadFromCache(ref Reference) (Secret, bool) {
	m.mu.RLock()
	entry, ok := m.cache[ref.CacheKey()]
	m.mu.RUnlock()
	if !ok || m.now().After(entry.expiresAt) {
		return Secret{}, false
	}
	return cloneSecret(entry.secret), true
}

func (m *manager) saveToCache(ref Reference, secret Secret) {
	m.mu.Lock()
	m.cache[ref.CacheKey()] = cachedSecret{
		secret:    cloneSecret(secret),
		expiresAt: m.now().Add(m.cacheTTL),
	}
	m.mu.Unlock()
}

func (m *manager) fields(ref Reference) []zap.Field {
	return []zap.Field{
		zap.String("secret_name", ref.Name),
		zap.String("secret_path", ref.Path),
		zap.String("secret_type", string(ref.Type)),
		zap.String("provider", string(m.provider.Name())),
	}
}

func cloneSecret(src Secret) Secret {
	dst := Secret{
		Data:     make(map[string]string, len(src.Data)),
		Metadata: src.Metadata,
	}
	for k, v := range src.Data {
		dst.Data[k] = v
	}
	return dst
}

// decodePayload reads a JSON object of strings as key/value entries. Any
// other payload is kept whole under "value".
func decodePayload(raw []byte) map[string]string {
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil && asMap != nil {
		return asMap
	}
	return map[string]string{"value": string(raw)}
}
