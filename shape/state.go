package shape

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Dataset is an uploaded shapefile held on disk for follow-up operations.
type Dataset struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Features  int       `json:"features"`
	Geometry  string    `json:"geometry"`
	CRS       string    `json:"crs"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"createdAt"`
	Dir       string    `json:"-"`
	ShpPath   string    `json:"-"`
}

// ResultFile is a produced artifact available for download.
type ResultFile struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	MediaType string    `json:"mediaType"`
	CreatedAt time.Time `json:"createdAt"`
	Dir       string    `json:"-"`
	Path      string    `json:"-"`
}

// DatasetStore tracks uploaded datasets and produced result files, each in
// its own working directory under the base dir. Entries expire after the
// configured TTL; a TTL of zero disables expiry.
type DatasetStore struct {
	mu       sync.RWMutex
	baseDir  string
	ttl      time.Duration
	datasets map[string]*Dataset
	results  map[string]*ResultFile
}

// NewDatasetStore creates a store rooted at baseDir.
func NewDatasetStore(baseDir string, ttl time.Duration) *DatasetStore {
	return &DatasetStore{
		baseDir:  baseDir,
		ttl:      ttl,
		datasets: make(map[string]*Dataset),
		results:  make(map[string]*ResultFile),
	}
}

// BaseDir returns the directory all working directories live under.
func (s *DatasetStore) BaseDir() string {
	return s.baseDir
}

// NewWorkDir allocates a fresh token and its working directory.
func (s *DatasetStore) NewWorkDir() (token, dir string, err error) {
	token, err = newToken()
	if err != nil {
		return "", "", err
	}
	dir = filepath.Join(s.baseDir, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create work directory: %w", err)
	}
	return token, dir, nil
}

// PutDataset registers a dataset under its token.
func (s *DatasetStore) PutDataset(ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[ds.Token] = ds
}

// Dataset returns a copy of the dataset for the given token.
func (s *DatasetStore) Dataset(token string) (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[token]
	if !ok {
		return nil, false
	}
	copy := *ds
	copy.Columns = append([]string(nil), ds.Columns...)
	return &copy, true
}

// Datasets returns copies of all datasets, newest first.
func (s *DatasetStore) Datasets() []*Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		copy := *ds
		copy.Columns = append([]string(nil), ds.Columns...)
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// RemoveDataset drops the dataset and deletes its working directory.
func (s *DatasetStore) RemoveDataset(token string) error {
	s.mu.Lock()
	ds, ok := s.datasets[token]
	delete(s.datasets, token)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(ds.Dir); err != nil {
		return fmt.Errorf("remove work directory: %w", err)
	}
	return nil
}

// PutResult registers a result file under its token.
func (s *DatasetStore) PutResult(res *ResultFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.Token] = res
}

// Result returns a copy of the result file for the given token.
func (s *DatasetStore) Result(token string) (*ResultFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[token]
	if !ok {
		return nil, false
	}
	copy := *res
	return &copy, true
}

// Sweep removes datasets and results older than the TTL, deleting their
// working directories. Returns the number of entries removed. A zero TTL
// makes Sweep a no-op.
func (s *DatasetStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	var dirs []string
	removed := 0
	for token, ds := range s.datasets {
		if now.Sub(ds.CreatedAt) > s.ttl {
			dirs = append(dirs, ds.Dir)
			delete(s.datasets, token)
			removed++
		}
	}
	for token, res := range s.results {
		if now.Sub(res.CreatedAt) > s.ttl {
			dirs = append(dirs, res.Dir)
			delete(s.results, token)
			removed++
		}
	}
	s.mu.Unlock()

	for _, dir := range dirs {
		_ = os.RemoveAll(dir)
	}
	return removed
}

// newToken returns a 32 character random hex token.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
