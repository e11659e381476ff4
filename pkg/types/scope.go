package types

import (
	"errors"
	"fmt"
	"strings"
)

// NamespacePrefix is prepended to every namespace derived from a scope.
const NamespacePrefix = "user_memories_"

// namespaceSeparator joins the escaped owner and session components. Escaped
// components never contain it, which keeps the encoding injective.
const namespaceSeparator = "__"

// ErrInvalidScope indicates that a scope is missing its owner or session.
var ErrInvalidScope = errors.New("invalid memory scope")

// MemoryScope identifies the isolated namespace for one owner's session.
type MemoryScope struct {
	OwnerID   string `json:"owner_id"`
	SessionID string `json:"session_id"`
}

// NewScope builds a validated scope.
func NewScope(ownerID, sessionID string) (MemoryScope, error) {
	s := MemoryScope{OwnerID: ownerID, SessionID: sessionID}
	if err := s.Validate(); err != nil {
		return MemoryScope{}, err
	}
	return s, nil
}

// Validate checks that both components are present.
func (s MemoryScope) Validate() error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("%w: owner ID is required", ErrInvalidScope)
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("%w: session ID is required", ErrInvalidScope)
	}
	return nil
}

// Namespace returns the namespace key for the scope.
func (s MemoryScope) Namespace() string {
	return ResolveNamespace(s.OwnerID, s.SessionID)
}

// String implements fmt.Stringer for log lines.
func (s MemoryScope) String() string {
	return s.OwnerID + "/" + s.SessionID
}

// ResolveNamespace derives the namespace key for an (owner, session) pair.
//
// Each component keeps [A-Za-z0-9-] verbatim and writes every other byte as
// '_' followed by two lowercase hex digits, so '_' itself becomes "_5f". An
// escaped component therefore never contains "__" and never ends in '_', and
// the first "__" after the prefix always marks the boundary. Equal pairs
// resolve to equal keys and distinct pairs never collide.
func ResolveNamespace(ownerID, sessionID string) string {
	var b strings.Builder
	b.Grow(len(NamespacePrefix) + len(ownerID) + len(sessionID) + len(namespaceSeparator))
	b.WriteString(NamespacePrefix)
	escapeComponent(&b, ownerID)
	b.WriteString(namespaceSeparator)
	escapeComponent(&b, sessionID)
	return b.String()
}

const hexDigits = "0123456789abcdef"

func escapeComponent(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isNamespaceSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
}

func isNamespaceSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-'
}
