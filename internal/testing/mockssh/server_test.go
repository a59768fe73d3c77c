package mockssh

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, s *Server, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", s.Addr(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.FixedHostKey(s.HostKey()),
		Timeout:         5 * time.Second,
	})
}

func TestServer_StartStop(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer server.Close()

	if server.Host() != "127.0.0.1" {
		t.Errorf("Host() = %v, want 127.0.0.1", server.Host())
	}
	if server.Port() == "" {
		t.Error("Port() should not be empty")
	}
}

func TestServer_Authentication(t *testing.T) {
	server, err := New(WithUser("testuser", "testpass"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer server.Close()

	client, err := dial(t, server, "testuser", "testpass")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	client.Close()

	if _, err := dial(t, server, "testuser", "wrongpass"); err == nil {
		t.Error("expected auth failure with wrong password")
	}
}

func TestServer_ExecHandler(t *testing.T) {
	server, err := New(WithExecHandler(func(cmd string) (string, string, int) {
		if cmd == "fail" {
			return "", "boom\n", 3
		}
		return cmd + "\n", "", 0
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := dial(t, server, "test", "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	out, err := session.Output("hello")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("Output() = %q", out)
	}

	session, err = client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr
	err = session.Run("fail")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 3 {
		t.Errorf("Run(fail) = %v, want exit status 3", err)
	}
	if stderr.String() != "boom\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestServer_Keepalive(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := dial(t, server, "test", "test")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ok, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	if err != nil || !ok {
		t.Errorf("keepalive = %v, %v", ok, err)
	}
}

func TestServer_DropConnections(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := dial(t, server, "test", "test")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		client.Wait()
		close(done)
	}()

	server.DropConnections()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client not disconnected after DropConnections")
	}
}
