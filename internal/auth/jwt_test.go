package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-jwt-secret")

func TestServiceToken_RoundTrip(t *testing.T) {
	raw, err := MintServiceToken("zeke", "zeke-worker-3", testSecret, time.Hour)
	require.NoError(t, err)

	identity, err := VerifyServiceToken(raw, testSecret)
	require.NoError(t, err)
	assert.Equal(t, MethodServiceJWT, identity.Method)
	assert.Equal(t, "zeke", identity.Service)
	assert.Equal(t, "zeke-worker-3", identity.Tenant)
}

func TestServiceToken_TenantFallsBackToService(t *testing.T) {
	raw, err := MintServiceToken("ghostflow", "", testSecret, time.Hour)
	require.NoError(t, err)

	identity, err := VerifyServiceToken(raw, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ghostflow", identity.Tenant)
}

func TestServiceToken_WrongSecret(t *testing.T) {
	raw, err := MintServiceToken("zeke", "", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = VerifyServiceToken(raw, []byte("other-secret"))
	assert.Error(t, err)
}

func TestServiceToken_Expired(t *testing.T) {
	raw, err := MintServiceToken("zeke", "", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyServiceToken(raw, testSecret)
	assert.Error(t, err)
}

func TestServiceToken_MissingServiceClaim(t *testing.T) {
	raw, err := MintServiceToken("", "someone", testSecret, time.Hour)
	require.NoError(t, err)

	_, err = VerifyServiceToken(raw, testSecret)
	assert.ErrorContains(t, err, "service claim")
}

func TestServiceToken_NoSecretConfigured(t *testing.T) {
	_, err := VerifyServiceToken("a.b.c", nil)
	assert.Error(t, err)

	_, err = MintServiceToken("zeke", "", nil, time.Hour)
	assert.Error(t, err)
}
