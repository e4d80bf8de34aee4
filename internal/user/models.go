// Package user implements the versioned account entity: an auth_user master
// row pointing at an append-only sequence of auth_user_detail snapshots, with
// every mutation routed through the approval workflow.
package user

import (
	"time"

	"zenmgt/internal/record"
)

// DefaultSessionValidity is the session policy applied when a payload omits
// one: 24 hours, in milliseconds.
const DefaultSessionValidity int64 = 86400000

// Master is the stable identity row for one account. ActiveVersionID, once
// non-zero, always references a Detail whose ParentID equals ID; once Status
// is DELETED the pointer never changes again.
type Master struct {
	ID              uint64        `db:"id"`
	UserCode        string        `db:"user_code"`
	ActiveVersionID uint64        `db:"active_version"`
	Status          record.Status `db:"record_status"`
	CreatedBy       uint64        `db:"created_by"`
	UpdatedBy       uint64        `db:"updated_by"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// Detail is one immutable snapshot of the account's business data. Rows are
// never updated or deleted; history is the ordered set of rows sharing a
// ParentID.
type Detail struct {
	ID              uint64    `db:"id"`
	ParentID        uint64    `db:"parent_id"`
	Username        string    `db:"username"`
	Email           string    `db:"email"`
	SessionValidity int64     `db:"session_validity"`
	CreatedBy       uint64    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
}

// Payload is the caller-supplied business data for a create or update.
type Payload struct {
	Username        string
	Email           string
	SessionValidity int64
}

// EntityView is the plain data view handed to the transport layer: master
// fields, the relevant detail snapshot, and the approval state, with the raw
// id replaced by an opaque token.
type EntityView struct {
	Token             string
	UserCode          string
	Status            record.Status
	StatusDescription string
	Username          string
	Email             string
	SessionValidity   int64
	ApprovalStatus    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Codec is the external id-obfuscation layer, consumed as a pure function
// pair. The engine never exposes raw numeric ids outside the process.
type Codec interface {
	Hash(id uint64) string
	Dehash(token string) (uint64, bool)
}
