// Package fakedialog answers server forms with a canned result.
package fakedialog

import (
	"sync"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Provider returns Result, or the prefill unchanged together with Err.
type Provider struct {
	Result ports.ServerFormData
	Err    error

	mu       sync.Mutex
	prefills []ports.ServerFormData
}

var _ ports.DialogProvider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) ServerConfigForm(prefill ports.ServerFormData) (ports.ServerFormData, error) {
	p.mu.Lock()
	p.prefills = append(p.prefills, prefill)
	p.mu.Unlock()
	if p.Err != nil {
		return prefill, p.Err
	}
	return p.Result, nil
}

// Calls is the number of forms shown so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prefills)
}

// LastPrefill is the data the most recent form was opened with.
func (p *Provider) LastPrefill() ports.ServerFormData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prefills) == 0 {
		return ports.ServerFormData{}
	}
	return p.prefills[len(p.prefills)-1]
}
