// Package artifact keeps the .archon metadata directory of a worktree in
// sync with the canonical repository. The copy is one-way and happens only
// when the canonical copy is newer.
package artifact

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/workflow"
)

// repoConfig is the repo-local sync configuration, read from
// .archon/config.yaml in the canonical repository.
type repoConfig struct {
	Worktree struct {
		// CopyFiles lists paths copied into worktrees. Entries may use the
		// "src -> dst" form to rename on copy.
		CopyFiles []string `yaml:"copyFiles"`
	} `yaml:"worktree"`
}

// Syncer copies orchestration metadata from the canonical repo into
// worktrees when the worktree copy is stale.
type Syncer struct {
	git    git.Service
	logger *logger.Logger
}

func NewSyncer(gitSvc git.Service, log *logger.Logger) *Syncer {
	return &Syncer{
		git:    gitSvc,
		logger: log.WithFields(zap.String("component", "artifact_sync")),
	}
}

// Sync copies the metadata directory (and any extra configured paths) from
// the canonical repo into worktreePath. It returns true only when a copy
// actually happened. Errors never propagate; they are logged and reported
// as false.
func (s *Syncer) Sync(worktreePath string) bool {
	if !s.git.IsWorktreePath(worktreePath) {
		return false
	}

	canonical, err := s.git.CanonicalRepoPath(worktreePath)
	if err != nil {
		s.logger.Warn("Failed to resolve canonical repo for sync",
			zap.String("worktree", worktreePath),
			zap.Error(err))
		return false
	}

	sourceDir := filepath.Join(canonical, workflow.MetadataDirName)
	sourceInfo, err := os.Stat(sourceDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to stat metadata directory", zap.Error(err))
		}
		return false
	}

	targetDir := filepath.Join(worktreePath, workflow.MetadataDirName)
	if targetInfo, err := os.Stat(targetDir); err == nil {
		if !targetInfo.ModTime().Before(sourceInfo.ModTime()) {
			return false
		}
	} else if !os.IsNotExist(err) {
		s.logger.Warn("Failed to stat worktree metadata directory", zap.Error(err))
		return false
	}

	entries := s.copyEntries(canonical)
	copied := false
	for _, entry := range entries {
		src, dst, ok := splitEntry(entry)
		if !ok {
			s.logger.Warn("Rejected sync entry outside repository root",
				zap.String("entry", entry))
			continue
		}
		srcPath := filepath.Join(canonical, src)
		dstPath := filepath.Join(worktreePath, dst)
		if err := copyRecursive(srcPath, dstPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn("Failed to copy sync entry",
				zap.String("source", srcPath),
				zap.Error(err))
			return false
		}
		copied = true
	}
	return copied
}

// copyEntries reads worktree.copyFiles from the repo-local config, forcing
// the metadata directory to the front of the list.
func (s *Syncer) copyEntries(canonical string) []string {
	entries := []string{workflow.MetadataDirName}

	data, err := os.ReadFile(filepath.Join(canonical, workflow.MetadataDirName, "config.yaml"))
	if err != nil {
		return entries
	}
	var cfg repoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("Unparseable repo sync config", zap.Error(err))
		return entries
	}
	for _, entry := range cfg.Worktree.CopyFiles {
		entry = strings.TrimSpace(entry)
		if entry == "" || entry == workflow.MetadataDirName {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// splitEntry parses an entry of the form "src" or "src -> dst" and rejects
// anything that would escape the repository root on either side.
func splitEntry(entry string) (src, dst string, ok bool) {
	src, dst = entry, entry
	if parts := strings.SplitN(entry, "->", 2); len(parts) == 2 {
		src = strings.TrimSpace(parts[0])
		dst = strings.TrimSpace(parts[1])
	}
	if !withinRoot(src) || !withinRoot(dst) {
		return "", "", false
	}
	return src, dst, true
}

func withinRoot(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) {
		return false
	}
	clean := filepath.Clean(rel)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

func copyRecursive(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyRecursive(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
