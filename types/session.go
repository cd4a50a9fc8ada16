package types

// Role identifies which side of the control channel a process plays.
type Role string

// Role constants.
const (
	RoleResponder Role = "responder"
	RoleReceiver  Role = "receiver"
	RoleUploader  Role = "uploader"
)

// SessionMeta identifies a process session for logging and metrics.
type SessionMeta struct {
	// SessionID is unique per process invocation.
	SessionID string
	// Role is the side this session plays.
	Role Role
	// FileName is the selected file, when known at startup.
	FileName *string
}
