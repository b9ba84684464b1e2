package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/room-sync/fabric/internal/v1/types"
	"github.com/stretchr/testify/assert"
)

func extra(t *testing.T, ud *types.UserData) map[string]string {
	t.Helper()
	var m map[string]string
	assert.NoError(t, json.Unmarshal(ud.Extra, &m))
	return m
}

func TestMockValidator_ValidateToken_WithValidJWT(t *testing.T) {
	mock := &MockValidator{}

	payload := map[string]interface{}{
		"sub":   "test-user-123",
		"name":  "Test User",
		"email": "test@example.com",
	}
	payloadBytes, _ := json.Marshal(payload)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadBytes)

	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." + encodedPayload + ".fake-signature"

	ud, err := mock.ValidateToken(context.Background(), token, "room-1")
	assert.NoError(t, err)
	assert.NotNil(t, ud)
	assert.Equal(t, types.UserIDType("test-user-123"), ud.UserID)
	assert.Equal(t, "Test User", extra(t, ud)["name"])
	assert.Equal(t, "test@example.com", extra(t, ud)["email"])
}

func TestMockValidator_ValidateToken_WithInvalidJWT(t *testing.T) {
	mock := &MockValidator{}

	ud, err := mock.ValidateToken(context.Background(), "invalid-token", "room-1")
	assert.NoError(t, err)
	assert.NotNil(t, ud)
	assert.Equal(t, types.UserIDType("dev-user-123"), ud.UserID)
	assert.Equal(t, "Dev User", extra(t, ud)["name"])
	assert.Equal(t, "dev@example.com", extra(t, ud)["email"])
}

func TestMockValidator_ValidateToken_WithPartialClaims(t *testing.T) {
	mock := &MockValidator{}

	payload := map[string]interface{}{
		"sub": "partial-user",
	}
	payloadBytes, _ := json.Marshal(payload)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payloadBytes)

	token := "header." + encodedPayload + ".signature"

	ud, err := mock.ValidateToken(context.Background(), token, "room-1")
	assert.NoError(t, err)
	assert.NotNil(t, ud)
	assert.Equal(t, types.UserIDType("partial-user"), ud.UserID)
	assert.Equal(t, "Dev User", extra(t, ud)["name"])
	assert.Equal(t, "dev@example.com", extra(t, ud)["email"])
}
