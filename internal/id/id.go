// Package id generates monotonic, sortable identifiers per entity kind.
package id

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind is the entity prefix baked into every identifier.
type Kind string

const (
	Session    Kind = "ses"
	Message    Kind = "msg"
	Part       Kind = "prt"
	Permission Kind = "per"
	Todo       Kind = "tdo"
	ToolOutput Kind = "out"
	Task       Kind = "tsk"
	Usage      Kind = "usg"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// Ascending returns a new identifier of the form <prefix>_<ULID>. Within
// one process, successive calls for any kind return strictly increasing
// strings: the ULID timestamp orders across clock ticks and the monotonic
// entropy orders within one.
func Ascending(kind Kind) string {
	mu.Lock()
	defer mu.Unlock()

	u := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return string(kind) + "_" + u.String()
}

// Timestamp recovers the creation time embedded in an identifier.
func Timestamp(id string) (time.Time, error) {
	_, raw, ok := strings.Cut(id, "_")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed id: %q", id)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed id %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}

// KindOf returns the prefix of an identifier, or "" if it has none.
func KindOf(id string) Kind {
	prefix, _, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	return Kind(prefix)
}
