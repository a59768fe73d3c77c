package realdialog

import (
	"testing"

	"github.com/acolita/sshkeeper/internal/ports"
)

func TestValidatePort(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"22", false},
		{" 2222 ", false},
		{"65535", false},
		{"0", true},
		{"65536", true},
		{"ssh", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := validatePort(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("validatePort(%q) = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestRequired(t *testing.T) {
	check := required("host")
	if err := check("  "); err == nil {
		t.Error("blank value accepted")
	}
	if err := check("db1"); err != nil {
		t.Errorf("required(db1) = %v", err)
	}
}

func TestServerForm_Defaults(t *testing.T) {
	f := newServerForm(ports.ServerFormData{Host: "10.0.0.1"})
	if f.port != "22" {
		t.Errorf("port = %q, want 22", f.port)
	}
	if f.data.AuthType != "key" {
		t.Errorf("AuthType = %q, want key", f.data.AuthType)
	}
}

func TestServerForm_Result(t *testing.T) {
	f := newServerForm(ports.ServerFormData{Name: "prod", Host: "10.0.0.1", User: "deploy", AuthType: "agent", Port: 2222})
	f.confirmed = true

	got, err := f.result()
	if err != nil {
		t.Fatal(err)
	}
	if got.Port != 2222 || !got.Confirmed || got.AuthType != "agent" {
		t.Errorf("result = %+v", got)
	}

	f.data.AuthType = "key"
	if _, err := f.result(); err == nil {
		t.Error("key auth without a key path accepted")
	}

	f.port = "abc"
	if _, err := f.result(); err == nil {
		t.Error("bad port accepted")
	}
}
