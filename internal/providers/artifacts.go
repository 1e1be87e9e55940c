package providers

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Artifact is a converter output slot: where the converter writes the file and
// the path under which the public directory serves it.
type Artifact struct {
	FilePath   string
	PublicPath string
}

type ArtifactStore interface {
	Prepare(ctx context.Context) error
	Allocate() (Artifact, error)
	Size(ctx context.Context, a Artifact) (int64, error)
}

type localArtifactStore struct {
	publicDir string
	subdir    string
	tokenLen  int
}

// NewLocalArtifactStore stores artifacts under publicDir/subdir with a short
// random token as file name. Tokens are not checked for collisions.
// A relative publicDir is resolved against the server's working directory,
// since the converter runs inside the job workspace.
func NewLocalArtifactStore(publicDir, subdir string, tokenLen int) ArtifactStore {
	if tokenLen <= 0 {
		tokenLen = 6
	}
	if abs, err := filepath.Abs(publicDir); err == nil {
		publicDir = abs
	}
	return &localArtifactStore{publicDir: publicDir, subdir: subdir, tokenLen: tokenLen}
}

func (s *localArtifactStore) Prepare(ctx context.Context) error {
	dir := filepath.Join(s.publicDir, filepath.FromSlash(s.subdir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	return nil
}

func (s *localArtifactStore) Allocate() (Artifact, error) {
	token, err := randomToken(s.tokenLen)
	if err != nil {
		return Artifact{}, err
	}
	name := token + ".pdf"
	return Artifact{
		FilePath:   filepath.Join(s.publicDir, filepath.FromSlash(s.subdir), name),
		PublicPath: path.Join(s.subdir, name),
	}, nil
}

func (s *localArtifactStore) Size(ctx context.Context, a Artifact) (int64, error) {
	fi, err := os.Stat(a.FilePath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	for i := range b {
		b[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(b), nil
}
