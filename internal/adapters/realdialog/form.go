// Package realdialog shows interactive forms on the controlling terminal.
package realdialog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Provider implements ports.DialogProvider with huh forms.
type Provider struct {
	accessible bool
}

// New creates a Provider. Accessible mode replaces the TUI with plain
// prompts, which is useful for screen readers and dumb terminals.
func New(accessible bool) *Provider {
	return &Provider{accessible: accessible}
}

// ServerConfigForm asks the user to confirm or edit a server profile.
func (p *Provider) ServerConfigForm(prefill ports.ServerFormData) (ports.ServerFormData, error) {
	f := newServerForm(prefill)
	if err := f.form.WithAccessible(p.accessible).Run(); err != nil {
		return prefill, err
	}
	return f.result()
}

type serverForm struct {
	data      ports.ServerFormData
	port      string
	confirmed bool
	form      *huh.Form
}

func newServerForm(prefill ports.ServerFormData) *serverForm {
	f := &serverForm{data: prefill, port: strconv.Itoa(prefill.Port)}
	if prefill.Port == 0 {
		f.port = "22"
	}
	if f.data.AuthType == "" {
		f.data.AuthType = "key"
	}

	f.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server Name").
				Description("Short name for this server (e.g., 'production', 's1')").
				Validate(required("name")).
				Value(&f.data.Name),

			huh.NewInput().
				Title("Host").
				Description("SSH hostname or IP address").
				Validate(required("host")).
				Value(&f.data.Host),

			huh.NewInput().
				Title("Port").
				Description("SSH port").
				Validate(validatePort).
				Value(&f.port),

			huh.NewInput().
				Title("User").
				Description("SSH username").
				Validate(required("user")).
				Value(&f.data.User),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Auth Type").
				Options(
					huh.NewOption("Private key", "key"),
					huh.NewOption("Password", "password"),
					huh.NewOption("SSH agent", "agent"),
				).
				Value(&f.data.AuthType),

			huh.NewInput().
				Title("SSH Key Path").
				Description("Private key file (key auth only)").
				Value(&f.data.KeyPath),

			huh.NewInput().
				Title("Passphrase Env Var").
				Description("Environment variable holding the key passphrase (optional)").
				Value(&f.data.PassphraseEnv),

			huh.NewInput().
				Title("Password Env Var").
				Description("Environment variable holding the SSH password (password auth only)").
				Value(&f.data.PasswordEnv),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this server profile?").
				Value(&f.confirmed),
		),
	)
	return f
}

// result converts the form fields into ServerFormData.
func (f *serverForm) result() (ports.ServerFormData, error) {
	if err := validatePort(f.port); err != nil {
		return f.data, err
	}
	out := f.data
	out.Port, _ = strconv.Atoi(strings.TrimSpace(f.port))
	out.Confirmed = f.confirmed
	if out.AuthType == "key" && out.KeyPath == "" {
		return out, fmt.Errorf("key auth needs a key path")
	}
	return out, nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

var _ ports.DialogProvider = (*Provider)(nil)
