package auth

import (
	"testing"
	"time"

	"github.com/nftsale/market-backend/pkg/config"
	"github.com/nftsale/market-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "nftsale",
		ExpirationMinutes: 60,
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	signed, err := MintAccessToken(cfg, now, AccessTokenPayload{
		AccountID: "alice.near",
		Role:      enums.ActorRoleUser,
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	claims, err := ParseAccessToken(cfg, signed)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.AccountID != "alice.near" {
		t.Fatalf("unexpected account id %q", claims.AccountID)
	}
	if claims.Role != enums.ActorRoleUser {
		t.Fatalf("unexpected role %q", claims.Role)
	}
	if claims.Subject != "alice.near" {
		t.Fatalf("subject should mirror account id, got %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Fatal("expected a generated jti")
	}
}

func TestMintRejectsInvalidPayload(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	if _, err := MintAccessToken(cfg, now, AccessTokenPayload{Role: enums.ActorRoleUser}); err == nil {
		t.Fatal("expected error for missing account id")
	}
	if _, err := MintAccessToken(cfg, now, AccessTokenPayload{AccountID: "a.near", Role: "root"}); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		AccountID: "alice.near",
		Role:      enums.ActorRoleOperator,
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	other := cfg
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, signed); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
}
