// Package id provides centralized ID generation for the gateway.
//
// Two kinds of identifiers exist:
//   - VersionID: names one deployment and therefore one cache store. Derived
//     from a build identifier when one is supplied, otherwise from a ULID so
//     versions sort by creation time.
//   - ClientID: names one attached page. Random UUIDs; never persisted.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// VersionID identifies exactly one cache store.
type VersionID string

// ClientID identifies one attached page.
type ClientID string

// DefaultVersionPrefix is prepended to every generated version.
const DefaultVersionPrefix = "mask-my-text"

// String returns the raw identifier.
func (v VersionID) String() string { return string(v) }

// String returns the raw identifier.
func (c ClientID) String() string { return string(c) }

// Generator produces ULIDs from a guarded entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator reading entropy from r.
// Tests pass a deterministic reader.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// At creates a ULID for the given instant.
func (g *Generator) At(t time.Time) ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), g.entropy)
}

// NewVersionID derives a version from a build identifier, falling back to a
// timestamp-ordered ULID when build is empty.
func NewVersionID(prefix, build string) VersionID {
	return Default().VersionID(prefix, build, time.Now())
}

// VersionID is NewVersionID with an explicit generator and clock.
func (g *Generator) VersionID(prefix, build string, now time.Time) VersionID {
	if prefix == "" {
		prefix = DefaultVersionPrefix
	}
	build = strings.TrimSpace(build)
	if build == "" {
		build = strings.ToLower(g.At(now).String())
	}
	return VersionID(fmt.Sprintf("%s-%s", prefix, build))
}

// NewClientID generates a new page identifier.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ValidateVersion checks a caller-supplied version name.
func ValidateVersion(v VersionID) error {
	if v == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if strings.ContainsAny(string(v), " \t\r\n/") {
		return fmt.Errorf("version %q contains invalid characters", v)
	}
	return nil
}
