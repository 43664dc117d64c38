package export

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

const ManifestName = "manifest.json"

// Manifest lists the artifacts of one session with their digests.
type Manifest struct {
	RunID     string            `json:"run_id"`
	Session   string            `json:"session"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	Artifacts []domain.Artifact `json:"artifacts"`
}

// Digest returns the size and hex blake2b-256 digest of the file at path.
func Digest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", fmt.Errorf("manifest: %w", err)
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// Add digests the file at path and appends it to the manifest.
func (m *Manifest) Add(path string) (domain.Artifact, error) {
	size, sum, err := Digest(path)
	if err != nil {
		return domain.Artifact{}, err
	}
	a := domain.Artifact{Name: filepath.Base(path), Path: path, Size: size, Digest: sum}
	m.Artifacts = append(m.Artifacts, a)
	return a, nil
}

// WriteFile writes the manifest as indented JSON to dir/manifest.json and
// returns the path written.
func (m *Manifest) WriteFile(dir string) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("manifest: marshal: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("manifest: write: %w", err)
	}
	return path, nil
}
