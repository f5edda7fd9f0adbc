package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// Store is a content-addressed artifact store on the local filesystem:
//
//	<root>/objects/<aa>/<digest>     blob payloads, shared across runs
//	<root>/runs/<runID>/<name>.json  one record per stored artifact name
//
// Records are created with O_EXCL, which enforces the write-once rule
// per (run, name) even across processes. Identical payloads from
// different runs share one object file.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates the store layout under root.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact store root is required")
	}
	for _, dir := range []string{
		filepath.Join(root, "objects"),
		filepath.Join(root, "runs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact store layout: %w", err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// Put streams the payload into the object directory and records it
// under the run namespace. Rewriting an existing name fails with
// ports.ErrArtifactExists.
func (s *Store) Put(ctx context.Context, runID, name, stage string, r io.Reader) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	if err := checkName(runID); err != nil {
		return domain.Artifact{}, err
	}
	if err := checkName(name); err != nil {
		return domain.Artifact{}, err
	}

	recordDir := filepath.Join(s.root, "runs", runID)
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return domain.Artifact{}, err
	}
	recordPath := filepath.Join(recordDir, name+".json")
	if _, err := os.Stat(recordPath); err == nil {
		return domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactExists)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "objects"), "incoming-*")
	if err != nil {
		return domain.Artifact{}, err
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("writing artifact %q: %w", name, err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	objDir := filepath.Join(s.root, "objects", digest[:2])
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return domain.Artifact{}, err
	}
	objPath := filepath.Join(objDir, digest)
	if _, err := os.Stat(objPath); err != nil {
		if err := os.Rename(tmp.Name(), objPath); err != nil {
			return domain.Artifact{}, fmt.Errorf("storing object %s: %w", digest, err)
		}
	}

	art := domain.Artifact{
		Name:     name,
		Stage:    stage,
		Digest:   digest,
		Size:     size,
		StoredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(art)
	if err != nil {
		return domain.Artifact{}, err
	}
	record, err := os.OpenFile(recordPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactExists)
		}
		return domain.Artifact{}, err
	}
	if _, err := record.Write(data); err != nil {
		record.Close()
		return domain.Artifact{}, err
	}
	if err := record.Close(); err != nil {
		return domain.Artifact{}, err
	}

	s.logger.Debug("artifact stored",
		zap.String("run_id", runID),
		zap.String("artifact", name),
		zap.String("digest", digest[:12]),
		zap.Int64("size", size))

	return art, nil
}

// Open returns the payload and record of a stored artifact. A missing
// name reports ports.ErrArtifactNotFound.
func (s *Store) Open(ctx context.Context, runID, name string) (io.ReadCloser, domain.Artifact, error) {
	art, err := s.Stat(ctx, runID, name)
	if err != nil {
		return nil, domain.Artifact{}, err
	}
	f, err := os.Open(filepath.Join(s.root, "objects", art.Digest[:2], art.Digest))
	if err != nil {
		return nil, domain.Artifact{}, fmt.Errorf("opening object %s for artifact %q: %w", art.Digest, name, err)
	}
	return f, art, nil
}

// Stat returns the record of a stored artifact without its payload.
func (s *Store) Stat(ctx context.Context, runID, name string) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}
	if err := checkName(runID); err != nil {
		return domain.Artifact{}, err
	}
	if err := checkName(name); err != nil {
		return domain.Artifact{}, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, "runs", runID, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactNotFound)
		}
		return domain.Artifact{}, err
	}

	var art domain.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return domain.Artifact{}, fmt.Errorf("corrupt record for artifact %q in run %s: %w", name, runID, err)
	}
	return art, nil
}

// List returns every artifact recorded for a run, sorted by name. A
// run with no artifacts yields an empty list.
func (s *Store) List(ctx context.Context, runID string) ([]domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(runID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "runs", runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]domain.Artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		art, err := s.Stat(ctx, runID, name)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, art)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

// Prune removes run namespaces whose newest record is older than the
// retention window, then sweeps objects no remaining record references.
// It returns the number of runs removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	runsDir := filepath.Join(s.root, "runs")
	runs, err := os.ReadDir(runsDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	referenced := make(map[string]bool)

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !run.IsDir() {
			continue
		}

		runDir := filepath.Join(runsDir, run.Name())
		records, err := os.ReadDir(runDir)
		if err != nil {
			return removed, err
		}

		newest := time.Time{}
		digests := make([]string, 0, len(records))
		for _, rec := range records {
			info, err := rec.Info()
			if err != nil {
				return removed, err
			}
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
			name := strings.TrimSuffix(rec.Name(), ".json")
			art, err := s.Stat(ctx, run.Name(), name)
			if err != nil {
				return removed, err
			}
			digests = append(digests, art.Digest)
		}

		if len(records) > 0 && newest.Before(cutoff) {
			if err := os.RemoveAll(runDir); err != nil {
				return removed, err
			}
			removed++
			s.logger.Info("pruned expired run artifacts",
				zap.String("run_id", run.Name()),
				zap.Int("artifacts", len(records)))
			continue
		}
		for _, d := range digests {
			referenced[d] = true
		}
	}

	if err := s.sweepObjects(referenced); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Store) sweepObjects(referenced map[string]bool) error {
	objectsDir := filepath.Join(s.root, "objects")
	shards, err := os.ReadDir(objectsDir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(objectsDir, shard.Name())
		objects, err := os.ReadDir(shardDir)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			if referenced[obj.Name()] {
				continue
			}
			if err := os.Remove(filepath.Join(shardDir, obj.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkName guards against path-shaped identifiers reaching the
// filesystem layout. Run ids and artifact names are flat tokens.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid store identifier %q", name)
	}
	return nil
}
