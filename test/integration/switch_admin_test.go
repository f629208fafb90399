package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestAdminSwitchEndpointsRequireScope(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/admin/switches/", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}

	plain := env.token(t, "user-plain")
	resp, envData := env.doJSON(t, http.MethodGet, "/api/v1/admin/switches/", nil, authHeader(plain))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without the admin scope, got %d", resp.StatusCode)
	}
	if envData.Error == nil || envData.Error.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN envelope, got %#v", envData.Error)
	}

	resp, _ = env.doJSON(t, http.MethodPut, "/api/v1/admin/switches/paypal.deposits", map[string]any{
		"enabled": false,
	}, authHeader(plain))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected mutation 403 without the admin scope, got %d", resp.StatusCode)
	}

	admin := env.token(t, "user-admin", "payments:admin")
	resp, _ = env.doJSON(t, http.MethodGet, "/api/v1/admin/switches/", nil, authHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with the admin scope, got %d", resp.StatusCode)
	}
}

func TestSwitchDisablesAndRestoresDeposits(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "user-admin", "payments:admin")
	player := env.token(t, "user-player")

	resp, _ := env.doJSON(t, http.MethodPut, "/api/v1/admin/switches/paypal.deposits", map[string]any{
		"enabled":     false,
		"description": "provider maintenance window",
	}, authHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected switch update 200, got %d", resp.StatusCode)
	}

	resp, envData := env.doJSON(t, http.MethodPost, "/api/v1/payments/deposits", map[string]any{
		"amount_minor_units": 2500,
	}, authHeader(player))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while deposits are disabled, got %d", resp.StatusCode)
	}
	if envData.Error == nil || envData.Error.Code != "OPERATION_DISABLED" {
		t.Fatalf("expected OPERATION_DISABLED, got %#v", envData.Error)
	}

	// Withdrawals run on their own switch and stay open.
	env.grant(t, "user-player", 10000)
	resp, _ = env.doJSON(t, http.MethodPost, "/api/v1/payments/withdrawals", map[string]any{
		"amount_minor_units": 2000,
		"recipient_handle":   "player@example.com",
	}, authHeader(player))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected withdrawals unaffected, got %d", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodPut, "/api/v1/admin/switches/paypal.deposits", map[string]any{
		"enabled": true,
	}, authHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected re-enable 200, got %d", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodPost, "/api/v1/payments/deposits", map[string]any{
		"amount_minor_units": 2500,
	}, authHeader(player))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected deposits restored, got %d", resp.StatusCode)
	}
}

func TestSwitchDeleteReturnsToDefaultEnabled(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "user-admin", "payments:admin")
	player := env.token(t, "user-player-2")

	if resp, _ := env.doJSON(t, http.MethodPut, "/api/v1/admin/switches/paypal.deposits", map[string]any{
		"enabled": false,
	}, authHeader(admin)); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected switch create 200, got %d", resp.StatusCode)
	}

	resp, _ := env.do(t, http.MethodDelete, "/api/v1/admin/switches/paypal.deposits", nil, authHeader(admin))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected delete 204, got %d", resp.StatusCode)
	}

	// A missing switch means enabled.
	resp, _ = env.doJSON(t, http.MethodPost, "/api/v1/payments/deposits", map[string]any{
		"amount_minor_units": 2500,
	}, authHeader(player))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected deposits enabled after delete, got %d", resp.StatusCode)
	}

	resp, envData := env.doJSON(t, http.MethodDelete, "/api/v1/admin/switches/paypal.deposits", nil, authHeader(admin))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected second delete 404, got %d", resp.StatusCode)
	}
	if envData.Error == nil || envData.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND envelope, got %#v", envData.Error)
	}
}

func TestSwitchListReturnsPagedItems(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "user-admin", "payments:admin")

	for _, key := range []string{"paypal.deposits", "paypal.withdrawals", "paypal.refunds"} {
		if resp, _ := env.doJSON(t, http.MethodPut, "/api/v1/admin/switches/"+key, map[string]any{
			"enabled": true,
		}, authHeader(admin)); resp.StatusCode != http.StatusOK {
			t.Fatalf("seed switch %s: got %d", key, resp.StatusCode)
		}
	}

	resp, envData := env.doJSON(t, http.MethodGet, "/api/v1/admin/switches/?page=1&page_size=2", nil, authHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected list 200, got %d", resp.StatusCode)
	}
	var page struct {
		Items      []json.RawMessage `json:"items"`
		Total      int64             `json:"total"`
		TotalPages int               `json:"total_pages"`
	}
	if err := json.Unmarshal(envData.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 2 || page.Total != 3 || page.TotalPages != 2 {
		t.Fatalf("expected 2 of 3 items over 2 pages, got items=%d total=%d pages=%d",
			len(page.Items), page.Total, page.TotalPages)
	}
}
