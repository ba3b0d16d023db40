package router

// Outbound payload shapes pushed to clients. Each frame carries exactly one
// of these; clients dispatch on which field is present.

// ClientID assigns or confirms a connection's identity.
type ClientID struct {
	ClientID string `json:"clientId"`
}

// System is a plain informational line.
type System struct {
	SystemMessage string `json:"systemMessage"`
}

// Member is one entry in a membership snapshot.
type Member struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	IsGhost bool   `json:"isGhost"`
}

// Members is a full membership snapshot.
type Members struct {
	Members []Member `json:"members"`
}

// Public is a room-wide chat line. Clients recognize their own messages by
// comparing SenderID against their assigned client id.
type Public struct {
	PublicMessage string `json:"publicMessage"`
	SenderID      string `json:"senderId"`
}

// Private is a direct message, prefixed "To <name>: " when echoed back to
// the sender and "<name>: " when delivered to a recipient.
type Private struct {
	PrivateMessage string `json:"privateMessage"`
	SenderID       string `json:"senderId"`
}

// GhostView is the covert copy of a private exchange shown to ghost-mode
// observers uninvolved in it.
type GhostView struct {
	GhostView string `json:"ghostView"`
}

// VerifyGhostResponse reports the outcome of a ghost passphrase check.
type VerifyGhostResponse struct {
	Action   string `json:"action"`
	Verified bool   `json:"verified"`
}
