// Package call relays voice and video call signaling between two users and
// records each call's lifecycle.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
	"mpchat/internal/user"
)

const (
	EventIncomingCall  = "incoming_call"
	EventCallInitiated = "call_initiated"
	EventCallAccepted  = "call_accepted"
	EventCallRejected  = "call_rejected"
	EventCallEnded     = "call_ended"
)

type InitiateRequest struct {
	CallerID   string `json:"caller_id" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	CallType   Type   `json:"call_type" validate:"omitempty,oneof=voice video"`
}

type RespondRequest struct {
	CallID   string `json:"call_id" validate:"required"`
	UserID   string `json:"user_id" validate:"required"`
	Accepted bool   `json:"accepted"`
}

type EndRequest struct {
	CallID string `json:"call_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

type CallerSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type IncomingCall struct {
	CallID   string        `json:"call_id"`
	Caller   CallerSummary `json:"caller"`
	CallType Type          `json:"call_type"`
}

type CallInitiated struct {
	CallID string `json:"call_id"`
	Status Status `json:"status"`
}

type CallAccepted struct {
	CallID     string `json:"call_id"`
	AcceptedBy string `json:"accepted_by"`
}

type CallRejected struct {
	CallID     string `json:"call_id"`
	RejectedBy string `json:"rejected_by"`
}

type CallEnded struct {
	CallID  string `json:"call_id"`
	EndedBy string `json:"ended_by"`
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// Signaling drives the call state machine:
//
//	calling -> ongoing -> completed
//	calling -> rejected -> completed
//	calling -> completed (hung up before an answer)
//
// Nothing moves a call to missed; a call nobody answers stays calling.
type Signaling struct {
	repo     *Repository
	users    UserLookup
	registry *presence.Registry
	log      logging.Logger
	now      func() time.Time
}

func NewSignaling(repo *Repository, users UserLookup, registry *presence.Registry, log logging.Logger) *Signaling {
	return &Signaling{repo: repo, users: users, registry: registry, log: log, now: db.Now}
}

// Initiate records a new call and rings the receiver if reachable. The
// caller's connection always gets call_initiated.
func (s *Signaling) Initiate(ctx context.Context, from presence.Conn, req InitiateRequest) (*Call, error) {
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}
	if req.CallerID == req.ReceiverID {
		return nil, apperr.Validation("Cannot call yourself")
	}
	if req.CallType == "" {
		req.CallType = TypeVoice
	}

	caller, err := s.getUser(ctx, req.CallerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getUser(ctx, req.ReceiverID); err != nil {
		return nil, err
	}

	started := s.now()
	c := &Call{
		ID:         uuid.NewString(),
		CallerID:   req.CallerID,
		ReceiverID: req.ReceiverID,
		Type:       req.CallType,
		Status:     StatusCalling,
		StartedAt:  &started,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, apperr.Persistence("Failed to start call", err)
	}

	s.relay(req.ReceiverID, EventIncomingCall, IncomingCall{
		CallID: c.ID,
		Caller: CallerSummary{
			ID:          caller.ID,
			Username:    caller.Username,
			DisplayName: caller.DisplayName,
		},
		CallType: c.Type,
	})

	ack := CallInitiated{CallID: c.ID, Status: c.Status}
	if from != nil {
		from.Emit(EventCallInitiated, ack)
	} else {
		s.relay(req.CallerID, EventCallInitiated, ack)
	}

	s.log.Info(ctx, "call initiated", "call_id", c.ID, "caller_id", c.CallerID, "receiver_id", c.ReceiverID)
	return c, nil
}

// Respond moves a ringing call to ongoing or rejected. Only the receiver
// may answer.
func (s *Signaling) Respond(ctx context.Context, req RespondRequest) (*Call, error) {
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	c, err := s.getCall(ctx, req.CallID)
	if err != nil {
		return nil, err
	}
	if req.UserID != c.ReceiverID {
		return nil, apperr.Unauthorized("Only the receiver can answer this call")
	}
	if c.Status != StatusCalling {
		return nil, apperr.Validation("Call is not ringing")
	}

	if req.Accepted {
		c.Status = StatusOngoing
	} else {
		c.Status = StatusRejected
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, apperr.Persistence("Failed to update call", err)
	}

	if req.Accepted {
		s.relay(c.CallerID, EventCallAccepted, CallAccepted{CallID: c.ID, AcceptedBy: req.UserID})
	} else {
		s.relay(c.CallerID, EventCallRejected, CallRejected{CallID: c.ID, RejectedBy: req.UserID})
	}

	s.log.Info(ctx, "call answered", "call_id", c.ID, "status", c.Status)
	return c, nil
}

// End completes a call and tells the other party. Unknown call ids are
// ignored and ending an already completed call changes nothing.
func (s *Signaling) End(ctx context.Context, req EndRequest) (*Call, error) {
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	c, err := s.getCall(ctx, req.CallID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.Involves(req.UserID) {
		return nil, apperr.Unauthorized("Not a party to this call")
	}
	if c.Status == StatusCompleted {
		return c, nil
	}

	ended := s.now()
	c.Status = StatusCompleted
	c.EndedAt = &ended
	if c.StartedAt != nil {
		d := int(ended.Sub(*c.StartedAt) / time.Second)
		if d < 0 {
			d = 0
		}
		c.Duration = &d
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, apperr.Persistence("Failed to end call", err)
	}

	s.relay(c.Other(req.UserID), EventCallEnded, CallEnded{CallID: c.ID, EndedBy: req.UserID})

	s.log.Info(ctx, "call ended", "call_id", c.ID, "ended_by", req.UserID)
	return c, nil
}

func (s *Signaling) relay(userID, event string, payload any) bool {
	conn, ok := s.registry.Lookup(userID)
	if !ok {
		return false
	}
	return conn.Emit(event, payload)
}

func (s *Signaling) getUser(ctx context.Context, id string) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Persistence("Failed to load user", err)
	}
	return u, nil
}

func (s *Signaling) getCall(ctx context.Context, id string) (*Call, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Persistence("Failed to load call", err)
	}
	return c, nil
}
