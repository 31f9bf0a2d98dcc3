package secrets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultKubernetesPath is where the deployment mounts konversi secrets.
const DefaultKubernetesPath = "/var/run/secrets/konversi"

// KubernetesConfig configures the provider that reads secrets mounted as files.
type KubernetesConfig struct {
	BasePath string
}

type kubernetesProvider struct {
	basePath string
}

func newKubernetesProvider(cfg KubernetesConfig) (provider, error) {
	base := cfg.BasePath
	if base == "" {
		base = DefaultKubernetesPath
	}

	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("secrets: kubernetes secrets base %s not accessible: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets: kubernetes secrets base %s is not a directory", base)
	}

	return &kubernetesProvider{basePath: base}, nil
}

func (k *kubernetesProvider) Name() ProviderType {
	return ProviderKubernetes
}

func (k *kubernetesProvider) Close() error {
	return nil
}

func (k *kubernetesProvider) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	target := filepath.Join(k.basePath, filepath.Clean("/"+ref.Path))
	info, err := os.Stat(target)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: kubernetes path %s not found: %w", target, err)
	}

	if !info.IsDir() {
		content, err := os.ReadFile(target)
		if err != nil {
			return Secret{}, err
		}
		return Secret{Data: map[string]string{
			filepath.Base(target): strings.TrimSpace(string(content)),
		}}, nil
	}

	data := make(map[string]string)
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		// Projected volumes keep the real files under ..data and timestamped dirs.
		if strings.HasPrefix(d.Name(), "..") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		key, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		data[filepath.ToSlash(key)] = strings.TrimSpace(string(content))
		return nil
	})
	if err != nil {
		return Secret{}, err
	}

	return Secret{Data: data}, nil
}
