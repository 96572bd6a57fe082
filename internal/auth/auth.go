package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials is the on-disk credentials file used when no key is configured.
type Credentials struct {
	APIKey       string `json:"api_key,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// HomeDir returns the directory holding credentials.json.
func HomeDir() string {
	if d := os.Getenv("LLMPORTAL_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".llmportal")
}

func credentialsPath() string {
	return filepath.Join(HomeDir(), "credentials.json")
}

// ReadCredentialsFile loads credentials.json from HomeDir.
func ReadCredentialsFile() (*Credentials, error) {
	data, err := os.ReadFile(credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to parse credentials file: %w", err)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, ErrNoCredentials
	}
	return &c, nil
}

// WriteCredentialsFile persists c with 0600 permissions.
func WriteCredentialsFile(c *Credentials) error {
	dir := HomeDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create credentials directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsPath(), data, 0o600)
}

// MaskKey keeps the first and last four characters of a secret.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
