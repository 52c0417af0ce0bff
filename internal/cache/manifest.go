package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Cache name prefixes. The manifest version is appended to both.
const (
	versionedPrefix = "timepulse-"
	runtimePrefix   = "timepulse-runtime-"
)

// ErrInvalidManifest is returned for a manifest that cannot name caches.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest pins the asset list of one deployment.
type Manifest struct {
	// Version names the caches; bumping it invalidates every cache on the
	// next activation.
	Version string `yaml:"version"`
	// Origin is the application origin, e.g. "https://timepulse.example".
	Origin string `yaml:"origin"`
	// URLs are pinned into the versioned cache. Relative URLs resolve
	// against Origin.
	URLs []string `yaml:"urls"`
	// OfflinePage is served for same-origin requests when nothing else is
	// available.
	OfflinePage string `yaml:"offline_page"`
}

// DefaultManifest is used when no manifest file exists.
func DefaultManifest() Manifest {
	return Manifest{
		Version:     "v1.2",
		Origin:      "http://localhost:3000",
		URLs:        []string{"/", "/favicon.ico", "/site.webmanifest"},
		OfflinePage: "/offline.html",
	}
}

// VersionedName returns the versioned cache name.
func (m Manifest) VersionedName() string {
	return versionedPrefix + m.Version
}

// RuntimeName returns the runtime cache name.
func (m Manifest) RuntimeName() string {
	return runtimePrefix + m.Version
}

// Equal reports whether two manifests describe the same deployment.
func (m Manifest) Equal(o Manifest) bool {
	return m.Version == o.Version && m.Origin == o.Origin &&
		m.OfflinePage == o.OfflinePage && slices.Equal(m.URLs, o.URLs)
}

// Validate checks that the manifest can name caches and resolve URLs.
func (m Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidManifest)
	}
	u, err := url.Parse(m.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: origin %q must be an absolute URL", ErrInvalidManifest, m.Origin)
	}
	return nil
}

// LoadManifest reads a YAML manifest. A missing file yields DefaultManifest.
func LoadManifest(fsys afero.Fs, path string) (Manifest, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := DefaultManifest()
	m.URLs = nil
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// WriteManifest stores m as YAML.
func WriteManifest(fsys afero.Fs, path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return afero.WriteFile(fsys, path, data, 0o644)
}
