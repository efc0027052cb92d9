package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := Static{"sonar-token": "sqp_12345"}

	v, err := r.Resolve("sonar-token")
	require.NoError(t, err)
	require.Equal(t, "sqp_12345", v)

	_, err = r.Resolve("missing")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestEnvResolver(t *testing.T) {
	t.Setenv("PIPERUNNER_SECRET_SONAR_TOKEN", "sqp_67890")

	v, err := Env{}.Resolve("sonar-token")
	require.NoError(t, err)
	require.Equal(t, "sqp_67890", v)

	_, err = Env{}.Resolve("aws-key")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy-key"), []byte("hunter2\n"), 0o600))

	r := Dir{Path: dir}

	v, err := r.Resolve("deploy-key")
	require.NoError(t, err)
	require.Equal(t, "hunter2", v, "trailing newline should be stripped")

	_, err = r.Resolve("absent")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	_, err = r.Resolve("../etc/passwd")
	require.ErrorIs(t, err, ErrCredentialNotFound, "path traversal must not resolve")
}

func TestChainResolver(t *testing.T) {
	chain := Chain{
		Static{"a": "from-first"},
		Static{"a": "from-second", "b": "only-second"},
	}

	v, err := chain.Resolve("a")
	require.NoError(t, err)
	require.Equal(t, "from-first", v, "first resolver wins")

	v, err = chain.Resolve("b")
	require.NoError(t, err)
	require.Equal(t, "only-second", v)

	_, err = chain.Resolve("c")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestChainStopsOnHardError(t *testing.T) {
	boom := errors.New("vault unreachable")
	chain := Chain{failingResolver{err: boom}, Static{"a": "x"}}

	_, err := chain.Resolve("a")
	require.ErrorIs(t, err, boom, "non-lookup errors must not fall through")
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(string) (string, error) { return "", f.err }

func TestRedactor(t *testing.T) {
	r := NewRedactor()
	r.Add("sqp_12345")
	r.Add("hunter2")
	r.Add("")  // ignored
	r.Add("x") // ignored, too short to mask

	in := "auth with sqp_12345 then hunter2 and done"
	require.Equal(t, "auth with ****** then ****** and done", r.Redact(in))
	require.Equal(t, 2, r.Len())

	// Unregistered text passes through untouched.
	require.Equal(t, "plain output", r.Redact("plain output"))
}

func TestRedactorDeduplicates(t *testing.T) {
	r := NewRedactor()
	r.Add("token")
	r.Add("token")
	require.Equal(t, 1, r.Len())
}
