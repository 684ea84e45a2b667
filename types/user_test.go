package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRoles(t *testing.T) {
	assert.False(t, User{}.IsAdmin())
	assert.True(t, User{Roles: []string{"Admin"}}.IsAdmin())
	assert.True(t, User{Roles: []string{"tasker", "admin"}}.HasRole("tasker"))
}

func TestUserJSONHidesSecrets(t *testing.T) {
	data, err := json.Marshal(User{ID: "u-1", Phone: "0700", PasswordHash: "hash", LegacyPassword: "plain"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "hash")
	assert.NotContains(t, string(data), "plain")
	assert.Contains(t, string(data), `"phone":"0700"`)
}
