package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Zernach/chainequity-sub000/internal/captable"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/ledger"
	"github.com/Zernach/chainequity-sub000/internal/reconciliation"
	"github.com/Zernach/chainequity-sub000/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authority = "issuer-authority"

type testEnv struct {
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.New(st, logger)
	projector := captable.NewProjector(st, logger)
	auditor := reconciliation.NewService(st, nil, logger)

	ts := httptest.NewServer(NewServer(svc, projector, st, logger, WithAuditor(auditor)).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func (e *testEnv) createToken(t *testing.T) model.Token {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/v1/tokens", map[string]any{
		"authority": authority,
		"symbol":    "ACME",
		"name":      "Acme Corporation",
		"decimals":  9,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var tok model.Token
	require.NoError(t, json.Unmarshal(raw, &tok))
	return tok
}

func (e *testEnv) approve(t *testing.T, tokenID, wallet string) {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/v1/tokens/"+tokenID+"/approvals", map[string]string{
		"caller": authority,
		"wallet": wallet,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}

func (e *testEnv) mint(t *testing.T, tokenID, recipient, amount string) {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/v1/tokens/"+tokenID+"/mints", map[string]string{
		"caller":    authority,
		"recipient": recipient,
		"amount":    amount,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestCreateToken_InvalidMetadata(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/v1/tokens", map[string]any{
		"authority": authority,
		"symbol":    "ac",
		"name":      "Acme Corporation",
		"decimals":  9,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "INVALID_METADATA", body["kind"])
}

func TestCreateToken_MissingAuthority(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/tokens", map[string]any{
		"symbol": "ACME", "name": "Acme Corporation", "decimals": 9,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetToken_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/v1/tokens/2b2f8f9a-0b8e-4a6e-9a3e-0b1c2d3e4f50", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetToken_BadUUID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/v1/tokens/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMint_Unauthorized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	env.approve(t, tok.ID.String(), "w1")

	resp, raw := env.do(t, http.MethodPost, "/v1/tokens/"+tok.ID.String()+"/mints", map[string]string{
		"caller":    "someone-else",
		"recipient": "w1",
		"amount":    "100",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "UNAUTHORIZED", body["kind"])
}

func TestTransfer_ConfirmedAndRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w1")
	env.approve(t, id, "w2")
	env.mint(t, id, "w1", "500")

	resp, raw := env.do(t, http.MethodPost, "/v1/tokens/"+id+"/transfers", map[string]string{
		"from": "w1", "to": "w2", "amount": "200",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var rec model.TransferRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, model.TransferConfirmed, rec.Result)

	// Rejected transfer returns the committed audit record with 422.
	resp, raw = env.do(t, http.MethodPost, "/v1/tokens/"+id+"/transfers", map[string]string{
		"from": "w1", "to": "w3", "amount": "100",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(raw))
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, model.TransferRejected, rec.Result)
	require.NotNil(t, rec.RejectReason)
	assert.Equal(t, model.RejectRecipientNotApproved, *rec.RejectReason)

	// Both show up in the audit listing.
	resp, raw = env.do(t, http.MethodGet, "/v1/tokens/"+id+"/transfers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []model.TransferRecord
	require.NoError(t, json.Unmarshal(raw, &records))
	assert.Len(t, records, 2)
}

func TestRevokeWallet_ViaAPI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w1")

	resp, _ := env.do(t, http.MethodDelete, "/v1/tokens/"+id+"/approvals/w1?caller="+authority, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := env.do(t, http.MethodGet, "/v1/tokens/"+id+"/approvals/w1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, false, body["approved"])
}

func TestCapTable_JSONAndCSV(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w1")
	env.approve(t, id, "w2")
	env.mint(t, id, "w1", "600")
	env.mint(t, id, "w2", "400")

	resp, raw := env.do(t, http.MethodGet, "/v1/tokens/"+id+"/captable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap captable.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, "1000", snap.TotalSupply)
	require.Len(t, snap.Holders, 2)
	assert.Equal(t, "w1", snap.Holders[0].Wallet)
	assert.Equal(t, "60.0000", snap.Holders[0].Percentage)

	resp, raw = env.do(t, http.MethodGet, "/v1/tokens/"+id+"/captable?format=tabular", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(raw), "wallet,balance,percentage,approved")
	assert.Contains(t, string(raw), "w1,600,60.0000,true")
}

func TestCapTable_BadQueryParams(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()

	resp, _ := env.do(t, http.MethodGet, "/v1/tokens/"+id+"/captable?as_of_sequence=nope", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/tokens/"+id+"/captable?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSplitLifecycle_ViaAPI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w1")
	env.mint(t, id, "w1", "1000")

	resp, raw := env.do(t, http.MethodPost, "/v1/tokens/"+id+"/splits", map[string]any{
		"caller": authority,
		"ratio":  7,
		"symbol": "ACMET",
		"name":   "Acme Corporation Two",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var created executeSplitResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	require.NotNil(t, created.Split)
	require.NotNil(t, created.NewToken)
	assert.Equal(t, "7000", created.NewToken.TotalSupply)
	assert.Equal(t, model.SplitMigrating, created.Split.State)

	splitID := created.Split.ID.String()

	resp, raw = env.do(t, http.MethodPost, "/v1/splits/"+splitID+"/migrations", map[string]string{
		"caller": authority,
		"wallet": "w1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var migrated model.Split
	require.NoError(t, json.Unmarshal(raw, &migrated))
	assert.Equal(t, model.SplitCompleted, migrated.State)

	// Replaying the migration conflicts.
	resp, raw = env.do(t, http.MethodPost, "/v1/splits/"+splitID+"/migrations", map[string]string{
		"caller": authority,
		"wallet": "w1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ALREADY_MIGRATED", body["kind"])

	// Writes to the superseded generation conflict too.
	resp, _ = env.do(t, http.MethodPost, "/v1/tokens/"+id+"/mints", map[string]string{
		"caller": authority, "recipient": "w1", "amount": "1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, raw = env.do(t, http.MethodGet, "/v1/splits/"+splitID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched model.Split
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, int64(1), fetched.HoldersMigrated)
}

func TestUpdateMetadata_ViaAPI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()

	resp, raw := env.do(t, http.MethodPatch, "/v1/tokens/"+id, map[string]string{
		"caller": authority,
		"symbol": "ACMEH",
		"name":   "Acme Holdings",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = env.do(t, http.MethodGet, "/v1/tokens/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched model.Token
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, "ACMEH", fetched.Symbol)
}

func TestNotApprovedError_CarriesSide(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w2")

	resp, raw := env.do(t, http.MethodPost, "/v1/tokens/"+id+"/transfers", map[string]string{
		"from": "w1", "to": "w2", "amount": "10",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Sender gate failed: audit record names the sender side.
	var rec model.TransferRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.NotNil(t, rec.RejectReason)
	assert.Equal(t, model.RejectSenderNotApproved, *rec.RejectReason)
}

func TestListTransfers_LimitValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)

	resp, _ := env.do(t, http.MethodGet, fmt.Sprintf("/v1/tokens/%s/transfers?limit=0", tok.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/v1/tokens/%s/transfers?limit=5000", tok.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReconcileEndpoint_ReportsCleanLedger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tok := env.createToken(t)
	id := tok.ID.String()
	env.approve(t, id, "w1")
	env.mint(t, id, "w1", "1000")

	resp, raw := env.do(t, http.MethodPost, "/v1/reconciliations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var res reconciliation.RunResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Mismatched)
	require.Len(t, res.Tokens, 1)
	assert.True(t, res.Tokens[0].IsMatch)
	assert.Equal(t, "1000", res.Tokens[0].StoredSupply)
}

func TestReconcileEndpoint_UnconfiguredReturns503(t *testing.T) {
	t.Parallel()
	st := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.New(st, logger)
	projector := captable.NewProjector(st, logger)

	ts := httptest.NewServer(NewServer(svc, projector, st, logger).Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/v1/reconciliations", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
