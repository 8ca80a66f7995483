package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAndRemove(t *testing.T) {
	d := Dir{Path: filepath.Join(t.TempDir(), "uploads")}

	f, err := d.Write(strings.NewReader("leaf bytes"), "IMG_0042.PNG")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(f.Path) != d.Path {
		t.Errorf("written outside scratch dir: %s", f.Path)
	}
	if filepath.Ext(f.Path) != ".png" {
		t.Errorf("extension = %s", filepath.Ext(f.Path))
	}
	got, err := os.ReadFile(f.Path)
	if err != nil || string(got) != "leaf bytes" {
		t.Fatalf("content = %q, %v", got, err)
	}

	if err := f.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestWriteUniqueNames(t *testing.T) {
	d := Dir{Path: t.TempDir()}
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		f, err := d.Write(strings.NewReader("x"), "leaf.jpg")
		if err != nil {
			t.Fatal(err)
		}
		if seen[f.Path] {
			t.Fatalf("duplicate scratch path %s", f.Path)
		}
		seen[f.Path] = true
	}
}

func TestWriteDefaultsExtension(t *testing.T) {
	d := Dir{Path: t.TempDir()}
	for _, name := range []string{"", "upload", "weird.extension"} {
		f, err := d.Write(strings.NewReader("x"), name)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Ext(f.Path) != ".jpg" {
			t.Errorf("%q -> %s", name, f.Path)
		}
		f.Remove()
	}
}
