package daemon

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func TestPIDFile_ReadWriteRemove(t *testing.T) {
	p := NewPIDFile(afero.NewMemMapFs(), "/agent.pid")
	if _, err := p.Read(); !errors.Is(err, ErrNoPIDFile) {
		t.Fatalf("Read() on missing file = %v", err)
	}
	if err := p.Write(4242); err != nil {
		t.Fatal(err)
	}
	got, err := p.Read()
	if err != nil || got != 4242 {
		t.Fatalf("Read() = %d, %v", got, err)
	}
	if err := p.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(); err != nil {
		t.Errorf("second Remove() = %v", err)
	}
}

func TestPIDFile_Invalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewPIDFile(fs, "/agent.pid")
	for _, content := range []string{"abc", "-3", "0"} {
		if err := afero.WriteFile(fs, p.Path(), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Read(); err == nil {
			t.Errorf("Read(%q) succeeded", content)
		}
	}
}

func TestPIDFile_Running(t *testing.T) {
	p := NewPIDFile(afero.NewMemMapFs(), "/agent.pid")
	if _, ok := p.Running(); ok {
		t.Error("Running() with no file")
	}
	_ = p.Write(os.Getpid())
	if pid, ok := p.Running(); !ok || pid != os.Getpid() {
		t.Errorf("Running() = %d, %v", pid, ok)
	}
}
