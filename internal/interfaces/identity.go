package interfaces

import (
	"context"
)

// Principal is the authenticated caller established once per connection
type Principal struct {
	Subject  string `json:"subject"`
	TenantID string `json:"tenant_id"`
}

// TokenVerifier is the contract with the external identity provider. The
// core never inspects credentials itself.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}
