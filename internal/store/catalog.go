package store

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
)

// InternalTablePrefix marks bookkeeping tables maintained by the storage and
// transfer mechanism. Tables with this prefix never leave the local store.
const InternalTablePrefix = "_dlt"

// catalogData is the on-disk shape of the catalog: dataset name to the list
// of logical tables it contains.
type catalogData struct {
	Datasets map[string][]string `json:"datasets"`
}

// Catalog tracks which logical tables exist in the store. It is a small
// JSON file guarded by a mutex; every mutation is persisted immediately.
type Catalog struct {
	path string
	mu   sync.RWMutex
	data catalogData
}

// NewCatalog creates a catalog backed by the given file path.
func NewCatalog(path string) *Catalog {
	return &Catalog{
		path: path,
		data: catalogData{Datasets: make(map[string][]string)},
	}
}

// Load reads the catalog from disk. A missing file is an empty catalog.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &c.data); err != nil {
		return err
	}
	if c.data.Datasets == nil {
		c.data.Datasets = make(map[string][]string)
	}
	return nil
}

// EnsureTable registers a table under a dataset, persisting the change.
// Registering an existing table is a no-op.
func (c *Catalog) EnsureTable(dataset, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.data.Datasets[dataset] {
		if t == table {
			return nil
		}
	}
	c.data.Datasets[dataset] = append(c.data.Datasets[dataset], table)
	sort.Strings(c.data.Datasets[dataset])
	return c.saveLocked()
}

// Tables returns the tables registered under a dataset, sorted by name.
func (c *Catalog) Tables(dataset string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.data.Datasets[dataset]))
	copy(out, c.data.Datasets[dataset])
	return out
}

func (c *Catalog) saveLocked() error {
	data, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, c.path)
}
