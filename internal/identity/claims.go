package identity

import (
	"context"

	"facetkit.org/internal/facet"
)

// ClaimsProvider answers identity questions from the validated bearer token
// in the request context. The token only speaks for its own subject; lookups
// for anybody else fall through to the wrapped provider.
type ClaimsProvider struct {
	Fallback Provider
}

var _ Provider = (*ClaimsProvider)(nil)

// NewClaimsProvider wraps fallback; fallback may be nil, in which case users
// other than the token subject are unknown.
func NewClaimsProvider(fallback Provider) *ClaimsProvider {
	return &ClaimsProvider{Fallback: fallback}
}

func (p *ClaimsProvider) claimsFor(ctx context.Context, user facet.UserRef) *Claims {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil
	}
	claims, err := ParseAndValidate(token)
	if err != nil || facet.UserRef(claims.Subject) != user {
		return nil
	}
	return claims
}

func (p *ClaimsProvider) IsPrivileged(ctx context.Context, user facet.UserRef) (bool, error) {
	if c := p.claimsFor(ctx, user); c != nil {
		return c.Privileged, nil
	}
	if p.Fallback != nil {
		return p.Fallback.IsPrivileged(ctx, user)
	}
	return false, nil
}

func (p *ClaimsProvider) GroupsOf(ctx context.Context, user facet.UserRef) ([]facet.GroupRef, error) {
	if c := p.claimsFor(ctx, user); c != nil {
		out := make([]facet.GroupRef, 0, len(c.Groups))
		for _, g := range c.Groups {
			out = append(out, facet.GroupRef(g))
		}
		return out, nil
	}
	if p.Fallback != nil {
		return p.Fallback.GroupsOf(ctx, user)
	}
	return nil, nil
}

func (p *ClaimsProvider) Exists(ctx context.Context, user facet.UserRef) (bool, error) {
	if c := p.claimsFor(ctx, user); c != nil {
		return true, nil
	}
	if p.Fallback != nil {
		return p.Fallback.Exists(ctx, user)
	}
	return false, nil
}
