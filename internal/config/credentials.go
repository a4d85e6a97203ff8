package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"

	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

// Environment variables holding the account credentials.
const (
	EnvUsername = "ZELLO_USERNAME"
	EnvPassword = "ZELLO_PASSWORD"
	EnvToken    = "ZELLO_TOKEN"
	EnvChannel  = "ZELLO_CHANNEL"
)

// MissingFieldError lists every credential key that was absent or empty.
type MissingFieldError struct {
	Keys []string
}

func (e *MissingFieldError) Error() string {
	return "config: missing credentials: " + strings.Join(e.Keys, ", ")
}

// LoadCredentials reads the credentials through lookup, usually
// [os.LookupEnv]. All four values are required.
func LoadCredentials(lookup func(string) (string, bool)) (session.Credentials, error) {
	var missing []string
	get := func(key string) string {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}
	creds := session.Credentials{
		Username: get(EnvUsername),
		Password: get(EnvPassword),
		Token:    get(EnvToken),
		Channel:  get(EnvChannel),
	}
	if len(missing) > 0 {
		return session.Credentials{}, &MissingFieldError{Keys: missing}
	}
	return creds, nil
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is ignored unless required is true.
func LoadEnvFile(path string, required bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load env file %q: %w", path, err)
}
