package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
)

func TestStaticVerifier(t *testing.T) {
	verifier := NewStaticVerifier(&common.AuthConfig{
		Tokens: map[string]string{
			"tok-alpha": "tenant-alpha",
			"tok-beta":  "tenant-beta",
		},
	}, arbor.NewLogger())
	ctx := context.Background()

	principal, err := verifier.Verify(ctx, "tok-alpha")
	require.NoError(t, err)
	assert.Equal(t, "tenant-alpha", principal.TenantID)
	assert.NotEmpty(t, principal.Subject)
	assert.NotContains(t, principal.Subject, "tok-alpha")

	// Same credential always maps to the same subject
	again, err := verifier.Verify(ctx, "tok-alpha")
	require.NoError(t, err)
	assert.Equal(t, principal.Subject, again.Subject)

	// Unknown and empty credentials are rejected identically
	_, err = verifier.Verify(ctx, "tok-unknown")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = verifier.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
