package domain

// Role is the explicit two-variant capability set of a call participant.
// The initiator (patient) authors the offer, the responder (doctor) the answer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// CallMode tags which of the two call families a session uses: direct
// peer-to-peer negotiation over the relay row, or a managed provider room.
type CallMode string

const (
	ModePeerToPeer CallMode = "p2p"
	ModeHostedRoom CallMode = "hosted"
)
