package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCredentialNotFound is returned when a credential identifier is not
// registered with any resolver in the chain.
var ErrCredentialNotFound = errors.New("credential not found")

// Resolver maps a credential identifier to its secret value. Implementations
// must never log resolved values; redaction of captured output is handled by
// the Redactor, everything else is on the caller.
type Resolver interface {
	Resolve(id string) (string, error)
}

// Static resolves credentials from an in-memory map. Intended for tests and
// for small setups where secrets arrive pre-resolved (e.g. via a wrapper).
type Static map[string]string

func (s Static) Resolve(id string) (string, error) {
	v, ok := s[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	return v, nil
}

// EnvPrefix is the prefix for environment-backed credentials. The credential
// id is upcased and dashes become underscores: "sonar-token" is looked up as
// PIPERUNNER_SECRET_SONAR_TOKEN.
const EnvPrefix = "PIPERUNNER_SECRET_"

// Env resolves credentials from process environment variables.
type Env struct{}

func (Env) Resolve(id string) (string, error) {
	key := EnvPrefix + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s (env %s unset)", ErrCredentialNotFound, id, key)
	}
	return v, nil
}

// Dir resolves credentials from files in a directory, one file per credential
// (kubernetes/docker secret mount layout). Trailing newlines are stripped.
type Dir struct {
	Path string
}

func (d Dir) Resolve(id string) (string, error) {
	if strings.ContainsAny(id, "/\\") || id == "" {
		return "", fmt.Errorf("%w: invalid credential id %q", ErrCredentialNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(d.Path, id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
		}
		return "", fmt.Errorf("reading credential %s: %w", id, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Chain tries each resolver in order and returns the first hit. Only a
// uniform ErrCredentialNotFound falls through; any other error stops the
// chain immediately.
type Chain []Resolver

func (c Chain) Resolve(id string) (string, error) {
	for _, r := range c {
		v, err := r.Resolve(id)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrCredentialNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
}
