package caller

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
)

const anonymousKind = "_anonymous_"

var ErrInvalidHandle = errors.New("invalid caller handle")

// Handle identifies the entity that receives timer notifications. The core
// never interprets it; it is handed back to the Notifier unchanged.
type Handle struct {
	Kind string
	ID   string
}

func (h Handle) GetHandle() Handle {
	return h
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s", h.Kind, h.ID)
}

func (h Handle) IsZero() bool {
	return h.Kind == "" && h.ID == ""
}

type Addressable interface {
	GetHandle() Handle
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText accepts "kind/id" or a bare id. Everything after the first
// slash is the id. Only the anonymous kind may have an empty id.
func (h *Handle) UnmarshalText(text []byte) error {
	s := string(text)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 1 {
		h.Kind = ""
		h.ID = parts[0]
	} else {
		h.Kind = parts[0]
		h.ID = parts[1]
	}
	if h.ID == "" && h.Kind != anonymousKind {
		return errors.Wrapf(ErrInvalidHandle, "%q has no id", s)
	}
	return nil
}

func Anonymous() Handle {
	return Handle{
		Kind: anonymousKind,
	}
}

// New returns a handle of the given kind with a fresh unique id.
func New(kind string) Handle {
	return Handle{
		Kind: kind,
		ID:   ksuid.New().String(),
	}
}
