package call

import "time"

type Status string

const (
	StatusCalling   Status = "calling"
	StatusOngoing   Status = "ongoing"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

type Type string

const (
	TypeVoice Type = "voice"
	TypeVideo Type = "video"
)

type Call struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"caller_id"`
	ReceiverID string     `json:"receiver_id"`
	Type       Type       `json:"call_type"`
	Status     Status     `json:"status"`
	StartedAt  *time.Time `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	Duration   *int       `json:"duration"`
}

// Other returns the party that is not userID.
func (c *Call) Other(userID string) string {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

func (c *Call) Involves(userID string) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}
