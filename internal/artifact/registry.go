package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nova-ml/internal/mlerr"
)

// Version describes one archived bundle under the registry root.
type Version struct {
	Version   string             `json:"version"`
	Path      string             `json:"path"`
	CreatedAt time.Time          `json:"created_at"`
	Backend   string             `json:"backend"`
	Task      string             `json:"task"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// Registry tracks trained bundle versions under a root directory and which
// one is active. State lives in versions.json next to the bundle dirs, so a
// restart resumes from the same active version.
type Registry struct {
	mu           sync.Mutex
	root         string
	versionsFile string
	versions     []Version
}

// OpenRegistry loads (or initializes) the registry under root.
func OpenRegistry(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, mlerr.Wrap(err, "create registry root")
	}
	r := &Registry{
		root:         root,
		versionsFile: filepath.Join(root, "versions.json"),
	}
	if err := r.loadVersions(); err != nil {
		log.Warn().Err(err).Str("root", root).Msg("failed to load model versions, starting fresh")
		r.versions = nil
	}
	return r, nil
}

// Add archives a freshly trained bundle as a new version. The version stamp
// doubles as the bundle directory name.
func (r *Registry) Add(b *Bundle) (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp := b.Schema.ModelVersion()
	if stamp == "" {
		stamp = time.Now().UTC().Format("20060102-150405")
	}
	dir := filepath.Join(r.root, stamp)
	if err := Save(dir, b.Schema, b.Model); err != nil {
		return Version{}, err
	}

	v := Version{
		Version:   stamp,
		Path:      dir,
		CreatedAt: time.Now().UTC(),
		Backend:   string(b.Schema.Backend()),
		Task:      string(b.Schema.Task()),
		Metrics:   b.Schema.Metrics(),
	}
	r.versions = append(r.versions, v)
	sort.Slice(r.versions, func(i, j int) bool {
		return r.versions[i].CreatedAt.After(r.versions[j].CreatedAt)
	})
	if err := r.saveVersions(); err != nil {
		return Version{}, err
	}
	return v, nil
}

// Activate marks one version active and all others inactive.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(version)
}

func (r *Registry) activateLocked(version string) error {
	found := false
	for i := range r.versions {
		if r.versions[i].Version == version {
			r.versions[i].IsActive = true
			found = true
		} else {
			r.versions[i].IsActive = false
		}
	}
	if !found {
		return mlerr.Newf("version %s not found", version)
	}
	return r.saveVersions()
}

// Rollback activates the version registered immediately before the current
// one.
func (r *Registry) Rollback() (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.versions) < 2 {
		return Version{}, mlerr.New("no previous version available for rollback")
	}
	currentIdx := -1
	for i, v := range r.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 || currentIdx+1 >= len(r.versions) {
		return Version{}, mlerr.New("no previous version available for rollback")
	}
	prev := r.versions[currentIdx+1]
	if err := r.activateLocked(prev.Version); err != nil {
		return Version{}, err
	}
	return prev, nil
}

// Active returns the currently active version, if any.
func (r *Registry) Active() (Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.IsActive {
			return v, true
		}
	}
	return Version{}, false
}

// List returns all registered versions, newest first.
func (r *Registry) List() []Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Version(nil), r.versions...)
}

// LoadActive loads the bundle of the active version.
func (r *Registry) LoadActive() (*Bundle, error) {
	v, ok := r.Active()
	if !ok {
		return nil, mlerr.New("no active model version")
	}
	return Load(v.Path)
}

func (r *Registry) loadVersions() error {
	data, err := os.ReadFile(r.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &r.versions)
}

func (r *Registry) saveVersions() error {
	data, err := json.MarshalIndent(r.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.versionsFile, data, 0o600)
}
