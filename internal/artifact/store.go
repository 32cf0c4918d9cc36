// Package artifact provides deterministic, stage-keyed storage of pipeline
// outputs with idempotent re-use.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Common errors
var (
	ErrNotFound         = errors.New("artifact not found")
	ErrAlreadyCommitted = errors.New("artifact already committed")
	ErrParamsMismatch   = errors.New("committed artifact has different parameters")
)

// Artifact is a committed, stage-tagged output file with lineage metadata.
type Artifact struct {
	RunID       string            `json:"run_id"`
	Stage       string            `json:"stage"`
	Path        string            `json:"path"`
	ContentHash string            `json:"content_hash"`
	ParamsHash  string            `json:"params_hash"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// stageFiles maps stage directory names to their single artifact filename.
// An artifact's path is a pure function of (run id, stage).
var stageFiles = map[string]string{
	"transcript": "transcript.txt",
	"moments":    "moments.json",
	"script":     "script.txt",
	"audio":      "narration.wav",
	"video":      "output.mp4",
}

// Store manages on-disk artifacts, one directory per run id.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory for a run id.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// ArtifactPath returns the deterministic path of a stage's artifact file.
func (s *Store) ArtifactPath(runID, stage string) (string, error) {
	name, ok := stageFiles[stage]
	if !ok {
		return "", fmt.Errorf("unknown stage %q", stage)
	}
	return filepath.Join(s.RunDir(runID), stage, name), nil
}

func (s *Store) metaPath(runID, stage string) string {
	return filepath.Join(s.RunDir(runID), stage, "meta.json")
}

// Lookup returns the committed artifact for (run id, stage) if its parameter
// hash matches. A hash mismatch means the stage must be recomputed and is
// reported as ErrParamsMismatch.
func (s *Store) Lookup(runID, stage, paramsHash string) (*Artifact, error) {
	var a Artifact
	data, err := os.ReadFile(s.metaPath(runID, stage))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal meta for %s/%s: %w", runID, stage, err)
	}
	if a.ParamsHash != paramsHash {
		return nil, fmt.Errorf("%w: %s/%s", ErrParamsMismatch, runID, stage)
	}
	if _, err := os.Stat(a.Path); err != nil {
		return nil, ErrNotFound
	}
	return &a, nil
}

// Commit writes artifact content atomically and records its sidecar metadata.
// Linking the metadata into place is the commit point: stage N+1 either sees
// the fully committed artifact or nothing. If a committed artifact already exists under
// the same key the existing one is returned with ErrAlreadyCommitted and the
// new content is discarded.
func (s *Store) Commit(runID, stage, paramsHash string, params map[string]string, content []byte) (*Artifact, error) {
	if existing, err := s.Lookup(runID, stage, paramsHash); err == nil {
		return existing, ErrAlreadyCommitted
	}

	path, err := s.ArtifactPath(runID, stage)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	if err := writeAtomic(path, content); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	a := &Artifact{
		RunID:       runID,
		Stage:       stage,
		Path:        path,
		ContentHash: hex.EncodeToString(sum[:]),
		ParamsHash:  paramsHash,
		Params:      params,
		CreatedAt:   time.Now().UTC(),
	}

	meta, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	meta = append(meta, '\n')

	if err := s.commitMeta(runID, stage, meta); err != nil {
		if errors.Is(err, ErrAlreadyCommitted) {
			// a concurrent identical run committed first; its artifact wins
			existing, lerr := s.Lookup(runID, stage, paramsHash)
			if lerr != nil {
				return nil, lerr
			}
			return existing, ErrAlreadyCommitted
		}
		return nil, err
	}
	return a, nil
}

// CommitFile is Commit for large outputs already on disk (e.g. encoded
// video). The source file is moved into the store.
func (s *Store) CommitFile(runID, stage, paramsHash string, params map[string]string, srcPath string) (*Artifact, error) {
	if existing, err := s.Lookup(runID, stage, paramsHash); err == nil {
		os.Remove(srcPath)
		return existing, ErrAlreadyCommitted
	}

	path, err := s.ArtifactPath(runID, stage)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	hash, err := hashFile(srcPath)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(srcPath, path); err != nil {
		return nil, fmt.Errorf("rename %s -> %s: %w", srcPath, path, err)
	}

	a := &Artifact{
		RunID:       runID,
		Stage:       stage,
		Path:        path,
		ContentHash: hash,
		ParamsHash:  paramsHash,
		Params:      params,
		CreatedAt:   time.Now().UTC(),
	}

	meta, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	meta = append(meta, '\n')

	if err := s.commitMeta(runID, stage, meta); err != nil {
		if errors.Is(err, ErrAlreadyCommitted) {
			existing, lerr := s.Lookup(runID, stage, paramsHash)
			if lerr != nil {
				return nil, lerr
			}
			return existing, ErrAlreadyCommitted
		}
		return nil, err
	}
	return a, nil
}

// commitMeta publishes the sidecar metadata. The link into place fails when
// the sidecar already exists, so concurrent writers under the same key get
// exactly one winner.
func (s *Store) commitMeta(runID, stage string, meta []byte) error {
	path := s.metaPath(runID, stage)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(meta); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp meta: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return ErrAlreadyCommitted
		}
		return fmt.Errorf("link %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// Read returns the content of a committed artifact.
func (s *Store) Read(a *Artifact) ([]byte, error) {
	return os.ReadFile(a.Path)
}

// List returns all committed artifacts for a run, in stage-directory order.
func (s *Store) List(runID string) ([]Artifact, error) {
	runDir := s.RunDir(runID)
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runDir, entry.Name(), "meta.json"))
		if err != nil {
			continue // uncommitted stage dir
		}
		var a Artifact
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		artifacts = append(artifacts, a)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// HashParams computes a deterministic hash of stage parameters. Keys are
// sorted and length-prefixed so distinct maps never collide.
func HashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [8]byte
		n := uint64(len(s))
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (56 - 8*i))
		}
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	for _, k := range keys {
		writeField(k)
		writeField(params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// hashFile computes the sha256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeAtomic writes data to a file atomically by writing to a temp file
// in the same directory, then renaming.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}
