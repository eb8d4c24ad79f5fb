package mediafile

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Kind
	}{
		{"jpeg", "photo.jpg", KindImage},
		{"jpeg alt ext", "photo.JPEG", KindImage},
		{"png", "shot.png", KindImage},
		{"gif", "anim.gif", KindImage},
		{"webp", "pic.webp", KindImage},
		{"heic", "IMG_0001.HEIC", KindConvertible},
		{"heif", "img.heif", KindConvertible},
		{"tiff", "scan.tiff", KindConvertible},
		{"tif short ext", "scan.tif", KindConvertible},
		{"bmp", "old.bmp", KindConvertible},
		{"mp4", "clip.mp4", KindVideo},
		{"mov", "clip.MOV", KindVideo},
		{"mkv", "film.mkv", KindVideo},
		{"webm", "rec.webm", KindVideo},
		{"avi", "rec.avi", KindVideo},
		{"text file", "notes.txt", KindUnsupported},
		{"no extension", "README", KindUnsupported},
		{"full path", "/data/trip/photo.jpg", KindImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMIMEType(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"a.jpg", "image/jpeg", false},
		{"a.jpeg", "image/jpeg", false},
		{"a.png", "image/png", false},
		{"a.heic", "image/heic", false},
		{"a.tiff", "image/tiff", false},
		{"a.mp4", "video/mp4", false},
		{"a.mov", "video/quicktime", false},
		{"a.txt", "", true},
		{"a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := MIMEType(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("MIMEType(%q) expected error, got %q", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("MIMEType(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("MIMEType(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindImage, "image"},
		{KindConvertible, "convertible"},
		{KindVideo, "video"},
		{KindUnsupported, "unsupported"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
