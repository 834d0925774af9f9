package audit

import "time"

// Action identifies what happened
type Action string

const (
	ActionSignIn             Action = "auth.sign_in"
	ActionSignInFailed       Action = "auth.sign_in_failed"
	ActionSignOut            Action = "auth.sign_out"
	ActionPromotion          Action = "admin.promotion"
	ActionInvitationCreated  Action = "admin.invitation_created"
	ActionInvitationAccepted Action = "admin.invitation_accepted"
	ActionProviderCreated    Action = "config.provider_created"
	ActionProviderUpdated    Action = "config.provider_updated"
	ActionProviderDeleted    Action = "config.provider_deleted"
	ActionResourceCreated    Action = "config.resource_created"
	ActionResourceUpdated    Action = "config.resource_updated"
	ActionResourceRemoved    Action = "config.resource_removed"
)

// Event is one immutable audit log entry. ActorID is the user who
// performed the action; Subject identifies what it was performed on.
type Event struct {
	ID        int64     `json:"id"`
	Action    Action    `json:"action"`
	ActorID   int64     `json:"actor_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
