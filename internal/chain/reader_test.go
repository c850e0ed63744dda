package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"streamwatcher/internal/stream"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// newRPCServer answers getTokenAccountBalance from balances keyed by vault address.
func newRPCServer(t *testing.T, balances map[string]map[string]any) (*httptest.Server, *[]rpcRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []rpcRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		vault, _ := req.Params[0].(string)
		if value, ok := balances[vault]; ok {
			resp["result"] = map[string]any{"context": map[string]any{"slot": 42}, "value": value}
		} else {
			resp["error"] = map[string]any{"code": -32602, "message": "could not find account"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestVaultBalanceReturnsBaseUnits(t *testing.T) {
	srv, requests := newRPCServer(t, map[string]map[string]any{
		"Vault1": {"amount": "1500000", "decimals": 6, "uiAmountString": "1.5"},
	})
	reader := NewRPCReader(Options{RPCURL: srv.URL, Commitment: "confirmed", Timeout: time.Second}, zerolog.Nop())
	defer reader.Close()

	got, err := reader.VaultBalance(context.Background(), "Vault1")
	if err != nil {
		t.Fatalf("VaultBalance: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(1500000)) {
		t.Fatalf("balance = %s, want 1500000 base units", got)
	}
	if len(*requests) != 1 || (*requests)[0].Method != "getTokenAccountBalance" {
		t.Fatalf("requests = %+v", *requests)
	}
	opts, _ := (*requests)[0].Params[1].(map[string]any)
	if opts["commitment"] != "confirmed" {
		t.Fatalf("commitment param = %v", opts)
	}
}

func TestVaultBalanceRejectsMalformedAmount(t *testing.T) {
	bal := tokenAccountBalance{}
	bal.Value.Amount = "2.5 tokens"
	bal.Value.Decimals = 6
	if _, err := bal.balance(); err == nil {
		t.Fatal("malformed amount should fail")
	}
}

func TestVaultBalanceErrors(t *testing.T) {
	if _, err := NewRPCReader(Options{}, zerolog.Nop()).VaultBalance(context.Background(), "Vault1"); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	srv, _ := newRPCServer(t, nil)
	reader := NewRPCReader(Options{RPCURL: srv.URL}, zerolog.Nop())
	defer reader.Close()
	if _, err := reader.VaultBalance(context.Background(), ""); err == nil {
		t.Fatal("empty vault address should fail")
	}
	if _, err := reader.VaultBalance(context.Background(), "Unknown"); err == nil {
		t.Fatal("rpc error should be returned")
	}
}

type staticSource struct{ snapshots []stream.Snapshot }

func (s staticSource) ListStreams(context.Context) ([]stream.Snapshot, error) {
	return s.snapshots, nil
}

func (s staticSource) ListStreamsByOrganization(context.Context, string) ([]stream.Snapshot, error) {
	return s.snapshots, nil
}

func vaultSnapshot(id, vault, balance string, status stream.Status) stream.Snapshot {
	b := decimal.RequireFromString(balance)
	return stream.Snapshot{
		ID:             id,
		VaultAddress:   vault,
		HourlyRate:     decimal.NewFromInt(1),
		TotalDeposited: b,
		VaultBalance:   b,
		Status:         status,
	}
}

func TestVerifyingSourceCountsMismatchesWithoutRewriting(t *testing.T) {
	srv, requests := newRPCServer(t, map[string]map[string]any{
		"VaultA": {"amount": "10000000", "decimals": 6, "uiAmountString": "10"},
		"VaultB": {"amount": "7000000", "decimals": 6, "uiAmountString": "7"},
	})
	reader := NewRPCReader(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer reader.Close()

	src := staticSource{snapshots: []stream.Snapshot{
		vaultSnapshot("a", "VaultA", "10000000", stream.StatusActive),
		vaultSnapshot("b", "VaultB", "9000000", stream.StatusActive),
		vaultSnapshot("c", "VaultC", "3", stream.StatusClosed),
		vaultSnapshot("d", "", "3", stream.StatusActive),
	}}
	reg := prometheus.NewRegistry()
	verifier := NewVerifyingSource(src, reader, VerifyOptions{Concurrency: 2}, reg, zerolog.Nop())

	got, err := verifier.ListStreams(context.Background())
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if !got[1].VaultBalance.Equal(decimal.NewFromInt(9000000)) {
		t.Fatalf("stored balance was rewritten to %s", got[1].VaultBalance)
	}
	if verifier.LastMismatches() != 1 {
		t.Fatalf("mismatches = %d, want 1", verifier.LastMismatches())
	}
	if len(*requests) != 2 {
		t.Fatalf("rpc requests = %d, want 2 (active streams with a vault)", len(*requests))
	}
	if v := testutil.ToFloat64(verifier.mismatches); v != 1 {
		t.Fatalf("mismatch metric = %v", v)
	}
	if v := testutil.ToFloat64(verifier.checked); v != 2 {
		t.Fatalf("checked metric = %v", v)
	}
}

func TestVerifyingSourceMatchesStoredBaseUnits(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]map[string]any{
		"VaultA": {"amount": "10000000", "decimals": 6, "uiAmountString": "10"},
		"VaultB": {"amount": "250", "decimals": 9, "uiAmountString": "0.00000025"},
	})
	reader := NewRPCReader(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer reader.Close()

	src := staticSource{snapshots: []stream.Snapshot{
		vaultSnapshot("a", "VaultA", "10000000", stream.StatusActive),
		vaultSnapshot("b", "VaultB", "250", stream.StatusActive),
	}}
	verifier := NewVerifyingSource(src, reader, VerifyOptions{}, prometheus.NewRegistry(), zerolog.Nop())

	if _, err := verifier.ListStreams(context.Background()); err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if verifier.LastMismatches() != 0 {
		t.Fatalf("mismatches = %d, want 0 for identical base-unit balances", verifier.LastMismatches())
	}
	if v := testutil.ToFloat64(verifier.checked); v != 2 {
		t.Fatalf("checked metric = %v", v)
	}
}

func TestVerifyingSourceToleratesLookupErrors(t *testing.T) {
	srv, _ := newRPCServer(t, nil)
	reader := NewRPCReader(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer reader.Close()

	src := staticSource{snapshots: []stream.Snapshot{vaultSnapshot("a", "VaultA", "10", stream.StatusActive)}}
	verifier := NewVerifyingSource(src, reader, VerifyOptions{}, nil, zerolog.Nop())

	got, err := verifier.ListStreamsByOrganization(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("lookup errors must not fail the listing: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("snapshots = %d", len(got))
	}
	if v := testutil.ToFloat64(verifier.failures); v != 1 {
		t.Fatalf("failure metric = %v", v)
	}
}
