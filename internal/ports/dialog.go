package ports

// ServerFormData holds the result of a server profile form.
type ServerFormData struct {
	Name          string
	Host          string
	Port          int
	User          string
	AuthType      string // "password", "key" or "agent"
	KeyPath       string
	PasswordEnv   string
	PassphraseEnv string
	Confirmed     bool
}

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms or test fakes.
type DialogProvider interface {
	// ServerConfigForm shows a form to confirm/edit a server profile.
	// Pre-filled values come from the input data; the user can modify them.
	// Returns the final form data with Confirmed=true if the user accepted.
	ServerConfigForm(prefill ServerFormData) (ServerFormData, error)
}
