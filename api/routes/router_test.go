package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nftsale/market-backend/pkg/auth"
	"github.com/nftsale/market-backend/pkg/config"
	"github.com/nftsale/market-backend/pkg/enums"
	"github.com/nftsale/market-backend/pkg/identity"
)

type stubSubmitter struct{}

func (stubSubmitter) Submit(context.Context, identity.AccountID, identity.AccountID, string, []byte, decimal.Decimal) (uuid.UUID, error) {
	return uuid.New(), nil
}

type stubDirectory struct{}

func (stubDirectory) Root() identity.AccountID { return "nftsale.near" }

func (stubDirectory) Subaccount(context.Context, identity.AccountID) (string, error) {
	return "shop", nil
}

func testRouter() http.Handler {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	return NewRouter(Deps{
		Config: cfg,
		Bus:    stubSubmitter{},
		Market: stubDirectory{},
	})
}

func TestHealthLiveIsPublic(t *testing.T) {
	resp := httptest.NewRecorder()
	testRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestMarketRoutesRequireAuth(t *testing.T) {
	resp := httptest.NewRecorder()
	testRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/market/subaccount/alice.near", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAdminRoutesRequireOperatorRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		AccountID: "alice.near",
		Role:      enums.ActorRoleUser,
	})
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/treasury/balance?account=alice.near", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	testRouter().ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestAuthedSubaccountRead(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		AccountID: "alice.near",
		Role:      enums.ActorRoleUser,
	})
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/market/subaccount/alice.near", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	testRouter().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
