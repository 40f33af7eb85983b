// Package secret is responsible for providing the process-wide server secret
// which download tokens are signed with. The secret is sourced (in order of
// preference) from configuration, from a file on disk, or freshly generated.
// A generated secret is persisted to the file so that tokens issued before a
// restart remain valid afterwards.
package secret

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hbomb79/Medialink/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Secret")

const (
	GeneratedSize = 32

	// MinimumSize is the smallest secret we consider safe to sign with. Smaller
	// configured secrets are accepted, but a warning is logged.
	MinimumSize = 32
)

var ErrUnreadable = errors.New("secret file could not be read")

type Config struct {
	// Value, when provided, is used verbatim as the secret.
	Value string `yaml:"server_secret" env:"SERVER_SECRET"`

	// FilePath points to the hex-encoded secret on disk. A leading '~'
	// is expanded to the users home directory.
	FilePath string `yaml:"secret_file" env:"SECRET_FILE" env-default:"~/.config/medialink/secret"`
}

// Load returns the server secret according to the config provided. If no secret
// is configured and none exists on disk, a random secret is generated and
// persisted. Failure to persist is not fatal: the generated secret is still
// returned, however tokens issued with it will not survive a restart.
func Load(config Config) ([]byte, error) {
	if config.Value != "" {
		if len(config.Value) < MinimumSize {
			log.Warnf("Configured server secret is only %d bytes; at least %d is recommended\n", len(config.Value), MinimumSize)
		}

		return []byte(config.Value), nil
	}

	if config.FilePath == "" {
		log.Warnf("No secret source configured, generating an ephemeral secret. Issued tokens will not survive a restart\n")
		return generate()
	}

	path, err := homedir.Expand(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand secret file path %q: %w", config.FilePath, err)
	}

	if existing, err := readFile(path); err == nil {
		log.Emit(logger.DEBUG, "Loaded server secret from %s\n", path)
		return existing, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	generated, err := generate()
	if err != nil {
		return nil, err
	}

	stored, err := persist(path, generated)
	if err != nil {
		log.Warnf("Failed to persist generated secret to %s, issued tokens will not survive a restart: %v\n", path, err)
		return generated, nil
	}

	if bytes.Equal(stored, generated) {
		log.Emit(logger.NEW, "Generated new server secret at %s\n", path)
	} else {
		log.Emit(logger.DEBUG, "Adopted server secret concurrently written to %s\n", path)
	}

	return stored, nil
}

func generate() ([]byte, error) {
	secret := make([]byte, GeneratedSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate server secret: %w", err)
	}

	return secret, nil
}

func readFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex encoded: %w", ErrUnreadable, path, err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnreadable, path)
	}

	return decoded, nil
}

// persist writes the secret to a temporary file alongside the target
// path before linking it in to place, so a crash can never leave a
// half-written secret behind. Linking fails if the target already exists,
// in which case the secret already there (written by another instance
// sharing the path) is returned instead, so that every instance agrees.
func persist(path string, secret []byte) ([]byte, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, ".secret-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(secret) + "\n"); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return readFile(path)
		}

		return nil, err
	}

	return secret, nil
}
