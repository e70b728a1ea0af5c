package types

// SessionInfo is the externally visible shape of a session.
type SessionInfo struct {
	ID             string `json:"id"`
	CreatedAt      int64  `json:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	// ParentID is set on sessions created by forking.
	ParentID string `json:"parentID,omitempty"`
}
