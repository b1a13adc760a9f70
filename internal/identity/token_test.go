package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"facetkit.org/internal/facet"
)

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("FACETKIT_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestTokenRoundTrip(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("alice", []facet.GroupRef{"eng", " "}, true, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "alice" || !claims.Privileged {
		t.Fatalf("claims: %+v", claims)
	}
	if len(claims.Groups) != 1 || claims.Groups[0] != "eng" {
		t.Fatalf("groups: %v", claims.Groups)
	}
}

func TestTokenValidation(t *testing.T) {
	withSecret(t)

	if _, err := GenerateToken("", nil, false, time.Minute); err == nil {
		t.Fatal("empty user accepted")
	}
	if _, err := GenerateToken("alice", nil, false, 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
	if _, err := ParseAndValidate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("FACETKIT_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("alice", nil, false, time.Minute); err == nil {
		t.Fatal("token minted without a secret")
	}
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider().AddUser("alice", "eng", "ops")
	p.AddPrivileged("root")

	if ok, _ := p.Exists(ctx, "alice"); !ok {
		t.Fatal("alice unknown")
	}
	if ok, _ := p.Exists(ctx, "nobody"); ok {
		t.Fatal("stranger known")
	}
	if priv, _ := p.IsPrivileged(ctx, "alice"); priv {
		t.Fatal("alice privileged")
	}
	if priv, _ := p.IsPrivileged(ctx, "root"); !priv {
		t.Fatal("root not privileged")
	}
	groups, _ := p.GroupsOf(ctx, "alice")
	if len(groups) != 2 || groups[0] != "eng" || groups[1] != "ops" {
		t.Fatalf("groups: %v", groups)
	}
}

func TestClaimsProvider(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("alice", []facet.GroupRef{"eng"}, true, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := ContextWithToken(context.Background(), token)

	fallback := NewStaticProvider().AddUser("bob", "ops")
	p := NewClaimsProvider(fallback)

	// The token speaks for its subject.
	if ok, _ := p.Exists(ctx, "alice"); !ok {
		t.Fatal("token subject unknown")
	}
	if priv, _ := p.IsPrivileged(ctx, "alice"); !priv {
		t.Fatal("token privilege lost")
	}
	groups, _ := p.GroupsOf(ctx, "alice")
	if len(groups) != 1 || groups[0] != "eng" {
		t.Fatalf("groups: %v", groups)
	}
	// Other users fall through to the wrapped provider.
	if ok, _ := p.Exists(ctx, "bob"); !ok {
		t.Fatal("fallback user unknown")
	}
	if ok, _ := p.Exists(ctx, "carol"); ok {
		t.Fatal("unknown user exists")
	}
	// Without a token, the subject is unknown too.
	if ok, _ := p.Exists(context.Background(), "alice"); ok {
		t.Fatal("subject known without token")
	}
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatal("actor in empty context")
	}
	ctx = ContextWithActor(ctx, "alice")
	if u, ok := ActorFromContext(ctx); !ok || u != "alice" {
		t.Fatalf("actor = %q, %v", u, ok)
	}
	if c := ContextWithActor(context.Background(), "  "); c != context.Background() {
		t.Fatal("blank actor stored")
	}
}
