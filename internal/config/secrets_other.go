//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func readSecrets(p string) (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return secrets, nil
		}
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func writeSecrets(p string, secrets map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

func secretGet(service, account string) (string, bool, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return "", false, err
	}
	val, ok := secrets[service][account]
	return val, ok, nil
}

func secretSet(service, account, value string) error {
	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value
	return writeSecrets(p, secrets)
}

func secretDelete(service, account string) error {
	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		return err
	}
	if _, ok := secrets[service][account]; !ok {
		return nil
	}
	delete(secrets[service], account)
	return writeSecrets(p, secrets)
}
