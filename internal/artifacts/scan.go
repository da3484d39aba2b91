package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// CachedArtifact describes one artifact file in the local cache
type CachedArtifact struct {
	Country    string    `json:"country"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Digest     string    `json:"digest,omitempty"`
}

// ScanResult is the outcome of a cache directory scan
type ScanResult struct {
	Artifacts    []CachedArtifact `json:"artifacts"`
	BytesScanned int64            `json:"bytes_scanned"`
	ScanDuration time.Duration    `json:"scan_duration"`
}

// ScanCache lists cached artifacts in cacheDir sorted by country. Digests are
// computed only when withDigest is set. A missing directory is an empty cache.
func ScanCache(cacheDir string, withDigest bool) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{}

	dirEntries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	prefix, suffix := LocalName(""), ".pkl"
	prefix = strings.TrimSuffix(prefix, suffix)

	for _, de := range dirEntries {
		name := de.Name()
		if !de.Type().IsRegular() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		a := CachedArtifact{
			Country:    strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix),
			Path:       filepath.Join(cacheDir, name),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		}
		if withDigest {
			f, err := os.Open(a.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", a.Path, err)
			}
			d, err := digest.FromReader(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to digest %s: %w", a.Path, err)
			}
			a.Digest = d.String()
		}

		result.Artifacts = append(result.Artifacts, a)
		result.BytesScanned += a.Size
	}

	sort.Slice(result.Artifacts, func(i, j int) bool {
		return result.Artifacts[i].Country < result.Artifacts[j].Country
	})
	result.ScanDuration = time.Since(start)

	return result, nil
}
