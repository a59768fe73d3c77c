package config

import (
	"errors"
	"testing"

	"github.com/acolita/sshkeeper/internal/ports"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakedialog"
	"github.com/acolita/sshkeeper/internal/testing/fakes/fakefs"
)

func TestAddServerInteractive(t *testing.T) {
	fs := fakefs.New()
	path := "/home/test/.config/sshkeeper/config.yaml"
	fs.AddFile(path, []byte("reconnect:\n  attempts: 3\n"), 0644)
	t.Setenv("SSHKEEPER_RECONNECT_ATTEMPTS", "8")

	dialog := fakedialog.New()
	dialog.Result = ports.ServerFormData{
		Name:          "prod",
		Host:          "10.0.0.1",
		Port:          2200,
		User:          "deploy",
		AuthType:      "key",
		KeyPath:       "~/.ssh/prod",
		PassphraseEnv: "PROD_PASS",
		PasswordEnv:   "IGNORED",
		Confirmed:     true,
	}

	server, err := AddServerInteractive(dialog, ServerConfig{Name: "prod", Host: "10.0.0.1"}, path, fs)
	if err != nil {
		t.Fatal(err)
	}
	if dialog.LastPrefill().Port != 22 || dialog.LastPrefill().AuthType != "key" {
		t.Errorf("prefill = %+v", dialog.LastPrefill())
	}
	if server.Auth.PasswordEnv != "" || server.Auth.PassphraseEnv != "PROD_PASS" {
		t.Errorf("auth = %+v", server.Auth)
	}

	back, err := loadFileOnly(path, fs)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := back.Server("prod"); !ok || s.Port != 2200 || s.Auth.Path != "~/.ssh/prod" {
		t.Errorf("saved server = %+v, %v", s, ok)
	}
	if back.Reconnect.Attempts != 3 {
		t.Errorf("environment override written to file: attempts = %d", back.Reconnect.Attempts)
	}

	if _, err := AddServerInteractive(dialog, ServerConfig{Name: "prod"}, path, fs); err == nil {
		t.Error("duplicate server accepted")
	}
}

func TestAddServerInteractive_Cancelled(t *testing.T) {
	fs := fakefs.New()
	dialog := fakedialog.New()
	dialog.Result = ports.ServerFormData{Name: "prod"}

	_, err := AddServerInteractive(dialog, ServerConfig{}, "/c.yaml", fs)
	if !errors.Is(err, ErrFormCancelled) {
		t.Errorf("err = %v, want ErrFormCancelled", err)
	}
	if len(fs.Files()) != 0 {
		t.Errorf("files written after cancel: %v", fs.Files())
	}

	dialog.Err = errors.New("no tty")
	if _, err := AddServerInteractive(dialog, ServerConfig{}, "/c.yaml", fs); err == nil {
		t.Error("dialog error swallowed")
	}
}

func TestServerFromForm_Password(t *testing.T) {
	s := ServerFromForm(ports.ServerFormData{Name: "db", AuthType: "password", PasswordEnv: "DB_PW", KeyPath: "/ignored"})
	if s.Auth.Path != "" || s.Auth.PasswordEnv != "DB_PW" {
		t.Errorf("auth = %+v", s.Auth)
	}
}
