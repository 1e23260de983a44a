package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserRequest_ResolvedRole(t *testing.T) {
	assert.Equal(t, RoleClient, (&CreateUserRequest{}).ResolvedRole())
	assert.Equal(t, RoleAdmin, (&CreateUserRequest{Role: RoleAdmin}).ResolvedRole())
}

func TestCreateUserRequest_ToRepresentation(t *testing.T) {
	t.Run("with email", func(t *testing.T) {
		req := CreateUserRequest{
			Username:  "alice",
			Email:     "alice@example.com",
			FirstName: "Alice",
			LastName:  "Liddell",
			Password:  "wonderland",
		}

		rep := req.ToRepresentation()
		assert.Equal(t, "alice", rep.Username)
		assert.True(t, rep.Enabled)
		assert.True(t, rep.EmailVerified)
		require.Len(t, rep.Credentials, 1)
		assert.Equal(t, "password", rep.Credentials[0].Type)
		assert.Equal(t, "wonderland", rep.Credentials[0].Value)
		assert.False(t, rep.Credentials[0].Temporary)
	})

	t.Run("without email", func(t *testing.T) {
		rep := (&CreateUserRequest{Username: "bob", Password: "password1"}).ToRepresentation()
		assert.False(t, rep.EmailVerified)
	})
}

func TestUserRepresentation_KeycloakFieldNames(t *testing.T) {
	rep := (&CreateUserRequest{Username: "carol", FirstName: "Carol", Password: "password1"}).ToRepresentation()

	data, err := json.Marshal(rep)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Carol", raw["firstName"])
	assert.Equal(t, true, raw["enabled"])
	assert.Equal(t, false, raw["emailVerified"])
	assert.NotContains(t, raw, "id")
	assert.NotContains(t, raw, "email")
}

func TestNewUserResponse(t *testing.T) {
	rep := UserRepresentation{
		ID:          "6a1e",
		Username:    "dave",
		Email:       "dave@example.com",
		FirstName:   "Dave",
		Enabled:     true,
		Credentials: []CredentialRepresentation{{Type: "password", Value: "secret"}},
	}

	resp := NewUserResponse(rep)
	assert.Equal(t, UserResponse{ID: "6a1e", Username: "dave", Email: "dave@example.com", FirstName: "Dave", Enabled: true}, resp)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}
