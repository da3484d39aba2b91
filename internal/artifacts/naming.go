package artifacts

import (
	"path/filepath"
)

const (
	// DefaultCacheDir is the local directory holding fetched artifacts
	DefaultCacheDir = "fitted_sarima_models"
	// DefaultBaseURL is the public bucket the artifacts are published to
	DefaultBaseURL = "https://storage.googleapis.com/exporthaven_models/"
)

// The local and remote templates differ and must stay as they are for
// compatibility with the published bucket.

// LocalName returns the cache filename for country
func LocalName(country string) string {
	return "model_" + country + ".pkl"
}

// RemoteName returns the published object name for country
func RemoteName(country string) string {
	return "models_" + country + ".pkl"
}

// LocalPath returns the cache path for country under cacheDir
func LocalPath(cacheDir, country string) string {
	return filepath.Join(cacheDir, LocalName(country))
}

// RemoteURL returns the download location for country. The base URL is
// concatenated as-is, so it must carry its own trailing slash.
func RemoteURL(baseURL, country string) string {
	return baseURL + RemoteName(country)
}
