package xid

import "github.com/google/uuid"

// New returns an opaque identifier such as "audit-3f0c...". Used for rows and
// tasks that are never ordered by id.
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
