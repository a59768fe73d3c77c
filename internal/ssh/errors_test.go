package ssh

import (
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/acolita/sshkeeper/internal/recovery"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDescribeDialError(t *testing.T) {
	opErr := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
	}

	tests := []struct {
		name string
		err  error
		want recovery.ErrorType
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "nohost.invalid", IsNotFound: true}, recovery.DNSResolutionFailed},
		{"refused", opErr(syscall.ECONNREFUSED), recovery.ConnectionRefused},
		{"unreachable", opErr(syscall.EHOSTUNREACH), recovery.HostUnreachable},
		{"network unreachable", opErr(syscall.ENETUNREACH), recovery.HostUnreachable},
		{"timeout", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, recovery.NetworkTimeout},
		{"auth", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"), recovery.AuthenticationFailed},
		{"handshake", errors.New("ssh: handshake failed: EOF"), recovery.ProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeDialError("10.0.0.1:22", tt.err)
			if !errors.Is(got, tt.err) {
				t.Error("original error dropped from the chain")
			}
			if typ := recovery.ClassifyType(got); typ != tt.want {
				t.Errorf("ClassifyType(%q) = %v, want %v", got, typ, tt.want)
			}
		})
	}
}
