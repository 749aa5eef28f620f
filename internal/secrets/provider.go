// Package secrets abstracts credential retrieval behind a narrow interface so
// the pipeline never reads ambient process state directly.
package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Provider retrieves a named secret as a flat key/value map.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// FileProvider reads secrets from JSON files in a directory: secret "spotify"
// maps to <dir>/spotify.json.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	path := filepath.Join(p.dir, name+".json")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}

	secret := make(map[string]string)
	for key := range v.AllSettings() {
		secret[key] = v.GetString(key)
	}
	return secret, nil
}

// EnvProvider reads secrets from environment variables: secret "spotify" with
// key "client_id" maps to SPOTIFY_CLIENT_ID.
type EnvProvider struct{}

// NewEnvProvider creates an environment-backed provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	prefix := strings.ToUpper(name) + "_"

	secret := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		secret[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("no environment variables found for secret %s", name)
	}
	return secret, nil
}
