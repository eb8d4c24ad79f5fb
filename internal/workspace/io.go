package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// document is the on-disk JSON shape. Optional fields default to zero values
// on load; unknown item_type values pass through untouched.
type document struct {
	Version        string           `json:"version"`
	DirectoryPaths []string         `json:"directory_paths"`
	Items          map[string]*Item `json:"items"`
	Created        time.Time        `json:"created"`
	Modified       time.Time        `json:"modified"`
}

// Load reads a workspace document from path. Missing optional fields default
// to empty/false, and an unknown item_type is kept rather than rejected. The
// modified flag is clear after a load.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workspace %s: %w", path, err)
	}

	w := New()
	w.path = path
	if doc.Version != "" {
		w.Version = doc.Version
	}
	w.DirectoryPaths = doc.DirectoryPaths
	if !doc.Created.IsZero() {
		w.Created = doc.Created
	}

	// Rebuild items keyed by their normalized path. The map key wins over
	// any divergent file_path field inside the record.
	keys := make([]string, 0, len(doc.Items))
	for key := range doc.Items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		item := doc.Items[key]
		if item == nil {
			item = &Item{}
		}
		norm := normalizePath(key)
		item.FilePath = norm
		if item.ItemType == "" {
			item.ItemType = ItemImage
		}
		w.items[norm] = item
		w.order = append(w.order, norm)
	}

	w.modified = false
	log.Debug().
		Str("path", path).
		Int("items", len(w.order)).
		Msg("Workspace loaded")
	return w, nil
}

// Save writes the workspace document to path, creating parent directories as
// needed. The write goes through a temp file and rename so a crash mid-save
// cannot truncate an existing document. The modified flag is clear after a
// successful save.
func (w *Workspace) Save(path string) error {
	if path == "" {
		path = w.path
	}
	if path == "" {
		return fmt.Errorf("workspace has no save path")
	}

	doc := document{
		Version:        w.Version,
		DirectoryPaths: w.DirectoryPaths,
		Items:          make(map[string]*Item, len(w.items)),
		Created:        w.Created,
		Modified:       time.Now().UTC(),
	}
	for _, key := range w.sortedKeys() {
		doc.Items[key] = w.items[key]
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode workspace: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace workspace file: %w", err)
	}

	w.path = path
	w.modified = false
	log.Debug().
		Str("path", path).
		Int("items", len(w.order)).
		Msg("Workspace saved")
	return nil
}
