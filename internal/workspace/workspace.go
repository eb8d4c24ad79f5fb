// Package workspace implements the persisted document model shared by the
// CLI and GUI front ends: a set of media items, each with an append-only
// history of AI-generated descriptions and a batch-mark flag.
//
// The document is a flat JSON file. The in-memory Workspace tracks a single
// modified flag, the one source of truth for "needs save", set by every
// mutating operation and cleared exactly on Load and Save.
package workspace

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DocumentVersion is written into every saved workspace document.
const DocumentVersion = "1.0"

// ItemType classifies a workspace item. Unknown values read from disk are
// preserved as-is so newer documents do not crash older binaries.
type ItemType string

const (
	ItemImage ItemType = "image"
	ItemVideo ItemType = "video"
	ItemFrame ItemType = "frame"
)

// DescriptionResult is one AI-generated description. Results are immutable
// once appended except for an explicit user edit of the text (see
// Workspace.UpdateDescriptionText); re-describing an item appends a new
// result rather than overwriting, so the history of re-descriptions is kept.
type DescriptionResult struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	PromptStyle  string    `json:"prompt_style"`
	CustomPrompt string    `json:"custom_prompt,omitempty"`
	Created      time.Time `json:"created"`
}

// NewDescriptionResult builds a result with a fresh ID and timestamp.
func NewDescriptionResult(text, providerName, model, promptStyle, customPrompt string) DescriptionResult {
	return DescriptionResult{
		ID:           uuid.NewString(),
		Text:         text,
		Provider:     providerName,
		Model:        model,
		PromptStyle:  promptStyle,
		CustomPrompt: customPrompt,
		Created:      time.Now().UTC(),
	}
}

// Item is one media file in the workspace. Frames extracted from a video
// carry the parent video's path in ParentVideo; the relation is a
// back-reference only, removing the video does not remove its frames.
type Item struct {
	FilePath     string              `json:"file_path"`
	ItemType     ItemType            `json:"item_type"`
	ParentVideo  string              `json:"parent_video,omitempty"`
	BatchMarked  bool                `json:"batch_marked"`
	Descriptions []DescriptionResult `json:"descriptions"`
}

// Workspace is the in-memory document. Items are keyed by normalized file
// path; no two items share a path. All mutation must happen on the driving
// context (single-writer discipline); Workspace does no locking of its own.
type Workspace struct {
	Version        string
	DirectoryPaths []string
	Created        time.Time

	items    map[string]*Item
	order    []string // insertion order of item paths
	modified bool
	path     string // where the document was loaded from / saved to
}

// New creates an empty workspace.
func New() *Workspace {
	return &Workspace{
		Version: DocumentVersion,
		Created: time.Now().UTC(),
		items:   make(map[string]*Item),
	}
}

// normalizePath is the item key normalization: cleaned, slash-separated.
func normalizePath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// Modified reports whether the workspace has unsaved changes.
func (w *Workspace) Modified() bool { return w.modified }

// Path returns the document location, empty for a never-saved workspace.
func (w *Workspace) Path() string { return w.path }

// Len returns the number of items.
func (w *Workspace) Len() int { return len(w.order) }

// Item returns the item for a path, or nil.
func (w *Workspace) Item(path string) *Item {
	return w.items[normalizePath(path)]
}

// Items returns all items in insertion order.
func (w *Workspace) Items() []*Item {
	out := make([]*Item, 0, len(w.order))
	for _, key := range w.order {
		out = append(out, w.items[key])
	}
	return out
}

// AddItem inserts a new item. Adding a path that already exists is an error;
// item paths are unique within a workspace.
func (w *Workspace) AddItem(path string, itemType ItemType, parentVideo string) (*Item, error) {
	key := normalizePath(path)
	if _, exists := w.items[key]; exists {
		return nil, fmt.Errorf("item already exists in workspace: %s", key)
	}
	item := &Item{
		FilePath:    key,
		ItemType:    itemType,
		ParentVideo: normalizeParent(parentVideo),
	}
	w.items[key] = item
	w.order = append(w.order, key)
	w.modified = true
	return item, nil
}

func normalizeParent(parent string) string {
	if parent == "" {
		return ""
	}
	return normalizePath(parent)
}

// EnsureItem returns the existing item for path or adds a new one. Reports
// whether the item was added.
func (w *Workspace) EnsureItem(path string, itemType ItemType, parentVideo string) (*Item, bool) {
	if item := w.Item(path); item != nil {
		return item, false
	}
	item, _ := w.AddItem(path, itemType, parentVideo)
	return item, true
}

// RemoveItem deletes an item outright. Returns false if the path is not in
// the workspace.
func (w *Workspace) RemoveItem(path string) bool {
	key := normalizePath(path)
	if _, exists := w.items[key]; !exists {
		return false
	}
	delete(w.items, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.modified = true
	return true
}

// AddDirectoryPath records a directory the workspace was populated from.
// Duplicate paths are ignored.
func (w *Workspace) AddDirectoryPath(dir string) {
	key := normalizePath(dir)
	for _, existing := range w.DirectoryPaths {
		if existing == key {
			return
		}
	}
	w.DirectoryPaths = append(w.DirectoryPaths, key)
	w.modified = true
}

// AddDescription appends a result to an item's history. It never replaces an
// existing entry.
func (w *Workspace) AddDescription(path string, result DescriptionResult) error {
	item := w.Item(path)
	if item == nil {
		return fmt.Errorf("no such item in workspace: %s", path)
	}
	item.Descriptions = append(item.Descriptions, result)
	w.modified = true
	return nil
}

// RemoveDescription deletes a description by id. Deletion removes the entry
// outright; prior entries are never rewritten.
func (w *Workspace) RemoveDescription(path, id string) bool {
	item := w.Item(path)
	if item == nil {
		return false
	}
	for i, d := range item.Descriptions {
		if d.ID == id {
			item.Descriptions = append(item.Descriptions[:i], item.Descriptions[i+1:]...)
			w.modified = true
			return true
		}
	}
	return false
}

// UpdateDescriptionText edits a stored description's text in place. This is
// the explicit user-edit operation, distinct from appending a new
// AI-generated result.
func (w *Workspace) UpdateDescriptionText(path, id, text string) bool {
	item := w.Item(path)
	if item == nil {
		return false
	}
	for i := range item.Descriptions {
		if item.Descriptions[i].ID == id {
			item.Descriptions[i].Text = text
			w.modified = true
			return true
		}
	}
	return false
}

// ToggleBatchMark flips an item's batch-mark flag and returns the new value.
// Marking is independent of description state: an already-described item can
// be marked for re-description.
func (w *Workspace) ToggleBatchMark(path string) (bool, error) {
	item := w.Item(path)
	if item == nil {
		return false, fmt.Errorf("no such item in workspace: %s", path)
	}
	item.BatchMarked = !item.BatchMarked
	w.modified = true
	return item.BatchMarked, nil
}

// SetBatchMark sets an item's batch-mark flag explicitly.
func (w *Workspace) SetBatchMark(path string, marked bool) error {
	item := w.Item(path)
	if item == nil {
		return fmt.Errorf("no such item in workspace: %s", path)
	}
	if item.BatchMarked != marked {
		item.BatchMarked = marked
		w.modified = true
	}
	return nil
}

// MarkedItems returns the batch-marked items in insertion order.
func (w *Workspace) MarkedItems() []*Item {
	var out []*Item
	for _, key := range w.order {
		if item := w.items[key]; item.BatchMarked {
			out = append(out, item)
		}
	}
	return out
}

// HasDescription reports whether the item at path already has a result for
// the exact (provider, model, prompt style) tuple. This is the idempotence
// check: the pipeline skips provider calls for tuples that already exist.
func (w *Workspace) HasDescription(path, providerName, model, promptStyle string) bool {
	item := w.Item(path)
	if item == nil {
		return false
	}
	for _, d := range item.Descriptions {
		if d.Provider == providerName && d.Model == model && d.PromptStyle == promptStyle {
			return true
		}
	}
	return false
}

// DescribableItems returns items that can be sent to a vision provider
// (images and frames; videos are described through their frames), in
// insertion order.
func (w *Workspace) DescribableItems() []*Item {
	var out []*Item
	for _, key := range w.order {
		item := w.items[key]
		if item.ItemType == ItemImage || item.ItemType == ItemFrame {
			out = append(out, item)
		}
	}
	return out
}

// sortedKeys returns item keys sorted, used for deterministic serialization.
func (w *Workspace) sortedKeys() []string {
	keys := make([]string, len(w.order))
	copy(keys, w.order)
	sort.Strings(keys)
	return keys
}
