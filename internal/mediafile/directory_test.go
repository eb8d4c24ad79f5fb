package mediafile

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFindsSupportedMedia(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "b.heic"))
	touch(t, filepath.Join(dir, "c.mp4"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "d.png"))

	found, err := Scan(dir, ScanOptions{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(found) != 4 {
		t.Fatalf("Scan found %d files, want 4: %v", len(found), found)
	}

	// Results are sorted by path.
	for i := 1; i < len(found); i++ {
		if found[i-1].Path >= found[i].Path {
			t.Errorf("results not sorted: %q before %q", found[i-1].Path, found[i].Path)
		}
	}

	kinds := map[string]Kind{}
	for _, f := range found {
		kinds[filepath.Base(f.Path)] = f.Kind
	}
	if kinds["a.jpg"] != KindImage {
		t.Errorf("a.jpg classified %v, want image", kinds["a.jpg"])
	}
	if kinds["b.heic"] != KindConvertible {
		t.Errorf("b.heic classified %v, want convertible", kinds["b.heic"])
	}
	if kinds["c.mp4"] != KindVideo {
		t.Errorf("c.mp4 classified %v, want video", kinds["c.mp4"])
	}
	if _, ok := kinds["notes.txt"]; ok {
		t.Error("notes.txt should not be returned")
	}
}

func TestScanMaxDepth(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "top.jpg"))
	touch(t, filepath.Join(dir, "sub", "nested.jpg"))

	found, err := Scan(dir, ScanOptions{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Scan with MaxDepth 1 found %d files, want 1", len(found))
	}
	if filepath.Base(found[0].Path) != "top.jpg" {
		t.Errorf("got %q, want top.jpg", found[0].Path)
	}
}

func TestScanLimit(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "b.jpg"))
	touch(t, filepath.Join(dir, "c.jpg"))

	found, err := Scan(dir, ScanOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(found) != 2 {
		t.Errorf("Scan with Limit 2 found %d files, want 2", len(found))
	}
}

func TestScanMissingDirectory(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), ScanOptions{}); err == nil {
		t.Error("Scan of missing directory should fail")
	}
}

func TestScanFileNotDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	touch(t, file)
	if _, err := Scan(file, ScanOptions{}); err == nil {
		t.Error("Scan of a file should fail")
	}
}
