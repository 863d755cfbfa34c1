// Package instance exposes a process-wide identifier used to correlate
// diagnostics emitted by a single client instance. The identifier is generated
// once and remains stable for the lifetime of the process.
package instance

import (
	"sync"

	"github.com/google/uuid"
)

var (
	once sync.Once
	id   string
)

// ID returns the instance identifier, generating it on first use.
func ID() string {
	once.Do(func() {
		id = "cropauth-" + uuid.NewString()
	})
	return id
}
