package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func withExeDir(t *testing.T, dir string) {
	t.Helper()
	orig := exeDir
	t.Cleanup(func() { exeDir = orig })
	exeDir = func() (string, error) { return dir, nil }
}

func TestLoadDir_FiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.gguf", "a.GGUF", "not-model.txt", "model.bin"} {
		touch(t, dir, f)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatal(err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "a" || models[1].Name != "b" || models[0].SizeBytes != 4 {
		t.Fatalf("unexpected models: %+v", models)
	}
	if !filepath.IsAbs(models[0].Path) {
		t.Fatalf("expected absolute path, got %q", models[0].Path)
	}
}

func TestLoadDir_MissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve_AbsoluteFileAndDir(t *testing.T) {
	dir := t.TempDir()
	p := touch(t, dir, "zordcoder-v1-q4_k_m.gguf")
	touch(t, dir, "zz.gguf")

	m, err := Resolve(p)
	if err != nil || m.Path != p || m.Name != "zordcoder-v1-q4_k_m" {
		t.Fatalf("file: %+v err=%v", m, err)
	}
	m, err = Resolve(dir)
	if err != nil || m.Path != p {
		t.Fatalf("dir should resolve to first gguf: %+v err=%v", m, err)
	}
}

func TestResolve_RelativeToBinaryDir(t *testing.T) {
	bin := t.TempDir()
	if err := os.Mkdir(filepath.Join(bin, "models"), 0o755); err != nil {
		t.Fatal(err)
	}
	want := touch(t, filepath.Join(bin, "models"), "m.gguf")
	withExeDir(t, bin)

	m, err := Resolve(filepath.Join("models", "m.gguf"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Path != want {
		t.Fatalf("got %q want %q", m.Path, want)
	}
}

func TestResolve_SearchDirs(t *testing.T) {
	withExeDir(t, t.TempDir())
	extra := t.TempDir()
	want := touch(t, extra, "m.gguf")
	m, err := Resolve("m.gguf", "", extra)
	if err != nil || m.Path != want {
		t.Fatalf("got %+v err=%v", m, err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	withExeDir(t, t.TempDir())
	_, err := Resolve("definitely-missing-model.gguf")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "definitely-missing-model.gguf") {
		t.Fatalf("error should name the model: %v", err)
	}
	if _, err := Resolve(""); !IsNotFound(err) {
		t.Fatalf("empty path must be not found, got %v", err)
	}
	// Directory without models.
	if _, err := Resolve(t.TempDir()); !IsNotFound(err) {
		t.Fatalf("empty dir must be not found, got %v", err)
	}
}
