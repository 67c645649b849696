package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
)

// ErrInvalidCredential is returned for any credential the verifier does not
// recognize. Callers get no detail beyond this.
var ErrInvalidCredential = errors.New("invalid credential")

// StaticVerifier validates bearer tokens against a configured token-to-tenant
// map. Production deployments sit behind the platform gateway which mints the
// tokens; this keeps the verify contract local for development and tests.
type StaticVerifier struct {
	tokens map[string]string
	logger arbor.ILogger
}

// NewStaticVerifier creates a verifier from the auth configuration
func NewStaticVerifier(config *common.AuthConfig, logger arbor.ILogger) *StaticVerifier {
	tokens := make(map[string]string, len(config.Tokens))
	for token, tenantID := range config.Tokens {
		tokens[token] = tenantID
	}
	return &StaticVerifier{
		tokens: tokens,
		logger: logger,
	}
}

// Verify resolves a credential to its principal, or rejects it
func (v *StaticVerifier) Verify(ctx context.Context, credential string) (*interfaces.Principal, error) {
	tenantID, ok := v.tokens[credential]
	if !ok {
		return nil, ErrInvalidCredential
	}

	return &interfaces.Principal{
		Subject:  subjectFor(credential),
		TenantID: tenantID,
	}, nil
}

// subjectFor derives a stable opaque subject from the credential so log
// lines correlate without ever carrying the token itself
func subjectFor(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return "sub_" + hex.EncodeToString(sum[:8])
}
