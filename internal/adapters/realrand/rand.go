// Package realrand backs ports.Random with crypto/rand.
package realrand

import (
	"crypto/rand"

	"github.com/acolita/sshkeeper/internal/ports"
)

type Reader struct{}

var _ ports.Random = Reader{}

func New() Reader { return Reader{} }

func (Reader) Read(b []byte) (int, error) { return rand.Read(b) }
