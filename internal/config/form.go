package config

import (
	"errors"
	"fmt"

	"github.com/acolita/sshkeeper/internal/ports"
)

// FormData converts a profile into dialog prefill data.
func (s ServerConfig) FormData() ports.ServerFormData {
	port := s.Port
	if port == 0 {
		port = 22
	}
	authType := s.Auth.Type
	if authType == "" {
		authType = "key"
	}
	return ports.ServerFormData{
		Name:          s.Name,
		Host:          s.Host,
		Port:          port,
		User:          s.User,
		AuthType:      authType,
		KeyPath:       s.Auth.Path,
		PasswordEnv:   s.Auth.PasswordEnv,
		PassphraseEnv: s.Auth.PassphraseEnv,
	}
}

// ServerFromForm builds a profile from confirmed dialog data.
func ServerFromForm(f ports.ServerFormData) ServerConfig {
	s := ServerConfig{
		Name: f.Name,
		Host: f.Host,
		Port: f.Port,
		User: f.User,
		Auth: AuthConfig{Type: f.AuthType},
	}
	switch f.AuthType {
	case "key":
		s.Auth.Path = f.KeyPath
		s.Auth.PassphraseEnv = f.PassphraseEnv
	case "password":
		s.Auth.PasswordEnv = f.PasswordEnv
	}
	return s
}

// ErrFormCancelled is returned by AddServerInteractive when the user
// dismisses the form.
var ErrFormCancelled = errors.New("server form cancelled")

// AddServerInteractive shows the server form prefilled from prefill, then
// appends the confirmed profile to the config file at path.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func AddServerInteractive(dialog ports.DialogProvider, prefill ServerConfig, path string, fsys ...ports.FileSystem) (ServerConfig, error) {
	result, err := dialog.ServerConfigForm(prefill.FormData())
	if err != nil {
		return ServerConfig{}, fmt.Errorf("server form: %w", err)
	}
	if !result.Confirmed {
		return ServerConfig{}, ErrFormCancelled
	}

	cfg, err := loadFileOnly(path, fsys...)
	if err != nil {
		return ServerConfig{}, err
	}

	server := ServerFromForm(result)
	if err := cfg.AddServer(server); err != nil {
		return ServerConfig{}, err
	}
	if err := Save(cfg, path, fsys...); err != nil {
		return ServerConfig{}, fmt.Errorf("save config: %w", err)
	}
	return server, nil
}
