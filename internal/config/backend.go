package config

import "os"

// ConfigBackend is where persisted settings live between runs. Keys are the
// dotted names from the key table, e.g. "api.base_url".
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// configFileEnv names an explicit JSON config file. When set it replaces the
// platform backend everywhere, which keeps scripted and test runs away from
// the user's real settings.
const configFileEnv = "OCRDESK_CONFIG"

func newPlatformBackend() ConfigBackend {
	if p := os.Getenv(configFileEnv); p != "" {
		return newFileBackend(p)
	}
	return nativeBackend()
}
