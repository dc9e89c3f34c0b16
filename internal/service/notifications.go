package service

import "context"

// Notification event types
const (
	EventDecisionRecorded     = "decision_recorded"
	EventApprovalRequired     = "approval_required"
	EventRequisitionApproved  = "requisition_approved"
	EventRequisitionRejected  = "requisition_rejected"
	EventRequisitionSubmitted = "requisition_submitted"
)

// Notification is an approval event handed to the notification service.
type Notification struct {
	EventType     string
	RequisitionID string
	ProjectID     string
	ActorID       string
	Level         int
	Roles         []string
	Payload       map[string]interface{}
}

// NotificationService delivers approval events. Implementations must not
// block or fail the caller; delivery errors are theirs to log.
type NotificationService interface {
	Publish(ctx context.Context, n Notification)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Notification) {}
