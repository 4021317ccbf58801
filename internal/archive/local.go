// Package archive stores raw page bodies for offline parser diagnosis.
// A task archives its page when extraction yields zero records, so the
// operator can inspect what the portal actually served.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig captures the parameters for the filesystem archive.
type LocalConfig struct {
	// BaseDir is the root directory where pages are written.
	BaseDir string
}

// Local writes page dumps to the local filesystem.
type Local struct {
	baseDir string
}

// NewLocal creates a filesystem-backed archive, creating BaseDir if
// needed.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Local{baseDir: cfg.BaseDir}, nil
}

// PutPage implements monitor.PageArchive, returning the written path.
func (a *Local) PutPage(_ context.Context, domain string, body []byte) (string, error) {
	name := fmt.Sprintf("%s/%s.html", sanitizeDomain(domain), time.Now().UTC().Format("20060102T150405"))
	fullPath := filepath.Join(a.baseDir, name)

	// Domains come from parsed URLs but guard traversal anyway.
	cleanBase := filepath.Clean(a.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0o600); err != nil {
		return "", fmt.Errorf("write page dump: %w", err)
	}
	return fullPath, nil
}

func sanitizeDomain(domain string) string {
	if domain == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return replacer.Replace(domain)
}
