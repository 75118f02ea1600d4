package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name   string
		err    error
		kind   error
		code   string
		status int
		msg    string
	}{
		{"validation", Validation("bad input"), ErrValidation, "validation", http.StatusBadRequest, "bad input"},
		{"not found", NotFound("no such chat"), ErrNotFound, "not_found", http.StatusNotFound, "no such chat"},
		{"unauthorized", Unauthorized("not yours"), ErrUnauthorized, "unauthorized", http.StatusForbidden, "not yours"},
		{"persistence", Persistence("save message", cause), ErrPersistence, "persistence", http.StatusInternalServerError, "save message"},
		{"wrapped", fmt.Errorf("router: %w", NotFound("gone")), ErrNotFound, "not_found", http.StatusNotFound, "gone"},
		{"plain", errors.New("boom"), nil, "internal", http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kind != nil {
				assert.ErrorIs(t, tt.err, tt.kind)
			}
			assert.Equal(t, tt.code, Code(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.msg, Message(tt.err))
		})
	}
}

func TestPersistence_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("save", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")
}

func TestValidate(t *testing.T) {
	type payload struct {
		ConversationID string `json:"conversation_id" validate:"required"`
		Type           string `json:"type" validate:"omitempty,oneof=text image"`
	}

	assert.NoError(t, Validate(payload{ConversationID: "c1", Type: "text"}))

	err := Validate(payload{Type: "gif"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, Message(err), "missing required fields: conversation_id")
	assert.Contains(t, Message(err), "invalid fields: type")
}
