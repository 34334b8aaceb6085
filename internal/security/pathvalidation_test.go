package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "seq")
	outside := filepath.Join(tmpDir, "outside")
	for _, d := range []string{filepath.Join(root, "rgb"), outside} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in root", filepath.Join(root, "rgb.txt"), false},
		{"nested file", filepath.Join(root, "rgb", "1.png"), false},
		{"root itself", root, false},
		{"parent traversal", filepath.Join(root, "..", "outside", "x"), true},
		{"sibling", filepath.Join(outside, "x"), true},
		{"through symlink", filepath.Join(root, "link", "x.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrPathEscape) {
				t.Errorf("err = %v, want ErrPathEscape", err)
			}
		})
	}
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	got, err := ResolveWithin(root, "depth/1305031102.160407.png")
	if err != nil {
		t.Fatalf("ResolveWithin: %v", err)
	}
	if want := filepath.Join(root, "depth", "1305031102.160407.png"); got != want {
		t.Errorf("path = %s, want %s", got, want)
	}

	for _, entry := range []string{"", "/etc/passwd", "../escape.png", "rgb/../../x"} {
		if _, err := ResolveWithin(root, entry); !errors.Is(err, ErrPathEscape) {
			t.Errorf("ResolveWithin(%q) err = %v, want ErrPathEscape", entry, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                         "unknown",
		"fr1/desk run #3":          "fr1_desk_run_3",
		"..hidden..":               "hidden",
		"ok-name_1.png":            "ok-name_1.png",
		"***":                      "unknown",
		"tum rgbd: freiburg1_xyz!": "tum_rgbd_freiburg1_xyz",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
