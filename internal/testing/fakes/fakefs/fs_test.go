package fakefs

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/acolita/sshkeeper/internal/testing/fakes/fakeclock"
)

func TestFS_WriteReadStat(t *testing.T) {
	clk := fakeclock.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	f := New().WithClock(clk)

	if err := f.WriteFile("/a/b/c.json", []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	data, err := f.ReadFile("/a/b/../b/c.json")
	if err != nil || string(data) != "x" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	data[0] = 'y'
	if again, _ := f.ReadFile("/a/b/c.json"); string(again) != "x" {
		t.Error("ReadFile returned shared storage")
	}

	fi, err := f.Stat("/a/b/c.json")
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0600 || fi.Size() != 1 || !fi.ModTime().Equal(clk.Now()) {
		t.Errorf("Stat = %v %d %v", fi.Mode(), fi.Size(), fi.ModTime())
	}
	if di, err := f.Stat("/a/b"); err != nil || !di.IsDir() {
		t.Errorf("parent dir not created: %v, %v", di, err)
	}
	if _, err := f.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing) = %v", err)
	}
}

func TestFS_RenameRemove(t *testing.T) {
	f := New()
	f.AddFile("/d/tmp", []byte("1"), 0600)

	if err := f.Rename("/d/tmp", "/d/final"); err != nil {
		t.Fatal(err)
	}
	if got := f.Files(); len(got) != 1 || got[0] != "/d/final" {
		t.Errorf("Files() = %v", got)
	}
	if err := f.Remove("/d"); err == nil {
		t.Error("Remove of a non-empty dir succeeded")
	}
	if err := f.Remove("/d/final"); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove("/d"); err != nil {
		t.Errorf("Remove(empty dir) = %v", err)
	}
	if err := f.Rename("/nope", "/x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Rename(missing) = %v", err)
	}
}

func TestFS_FailOn(t *testing.T) {
	f := New()
	boom := errors.New("disk full")
	f.FailOn(OpWrite, boom)

	if err := f.WriteFile("/x", nil, 0600); !errors.Is(err, boom) {
		t.Errorf("WriteFile = %v, want injected error", err)
	}
	f.AddFile("/seeded", []byte("ok"), 0600)

	f.FailOn(OpWrite, nil)
	if err := f.WriteFile("/x", nil, 0600); err != nil {
		t.Errorf("WriteFile after clearing fault = %v", err)
	}
}

func TestFS_EnvAndHome(t *testing.T) {
	f := New()
	if home, _ := f.UserHomeDir(); home != "/home/test" {
		t.Errorf("default home = %q", home)
	}
	f.SetHomeDir("/home/alice")
	f.SetEnv("SSH_AUTH_SOCK", "/tmp/agent.sock")
	if home, _ := f.UserHomeDir(); home != "/home/alice" {
		t.Errorf("home = %q", home)
	}
	if got := f.Getenv("SSH_AUTH_SOCK"); got != "/tmp/agent.sock" {
		t.Errorf("Getenv = %q", got)
	}
	if got := f.Getenv("UNSET"); got != "" {
		t.Errorf("Getenv(UNSET) = %q", got)
	}
}
