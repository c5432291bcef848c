package websocket

import (
	"errors"
	"testing"

	"github.com/pscheid92/topicrelay/internal/domain"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Accepted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want actionRequest
	}{
		{"event shape register", `{"event":"actions","payload":{"action":"register","topic":"news"}}`, actionRequest{"register", "news"}},
		{"event shape unregister", `{"event":"actions","payload":{"action":"unregister","topic":"news"}}`, actionRequest{"unregister", "news"}},
		{"topic shape", `{"topic":"news","payload":{"action":"register"}}`, actionRequest{"register", "news"}},
		{"event shape without topic", `{"event":"actions","payload":{"action":"register"}}`, actionRequest{"register", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFrame([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFrame_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantType apperrors.ErrorType
		wantMsg  string
	}{
		{"not json", `hello`, apperrors.TypeValidation, msgInvalidFrame},
		{"json array", `[1,2]`, apperrors.TypeValidation, msgInvalidFrame},
		{"json null", `null`, apperrors.TypeValidation, msgInvalidFrame},
		{"no event or topic", `{"payload":{"action":"register"}}`, apperrors.TypeValidation, msgInvalidFrame},
		{"event not a string", `{"event":5}`, apperrors.TypeValidation, msgInvalidFrame},
		{"unknown event", `{"event":"chat","payload":{}}`, apperrors.TypeValidation, msgUnknownEvent},
		{"missing payload", `{"event":"actions"}`, apperrors.TypeValidation, msgInvalidPayload},
		{"action not a string", `{"event":"actions","payload":{"action":1}}`, apperrors.TypeValidation, msgInvalidPayload},
		{"unknown action", `{"event":"actions","payload":{"action":"explode","topic":"x"}}`, apperrors.TypeUnknownAction, "Unknown action"},
		{"unknown action topic shape", `{"topic":"x","payload":{"action":"explode"}}`, apperrors.TypeUnknownAction, "Unknown action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFrame([]byte(tt.in))
			require.Error(t, err)
			structured := apperrors.AsStructuredError(err)
			assert.Equal(t, tt.wantType, structured.Type)
			assert.Equal(t, tt.wantMsg, structured.Message)
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ServerResponse
	}{
		{"validation", apperrors.ValidationError("Topic is required"), domain.ServerResponse{Type: "validation_error", Message: "Topic is required"}},
		{"unknown action", apperrors.UnknownActionError("x"), domain.ServerResponse{Type: "server_error", Message: "Unknown action"}},
		{"store", apperrors.StoreError("subscribe script failed", errors.New("down")), domain.ServerResponse{Type: "server_error", Message: "Internal server error"}},
		{"plain", errors.New("boom"), domain.ServerResponse{Type: "server_error", Message: "Internal server error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorResponse(tt.err))
		})
	}
}
