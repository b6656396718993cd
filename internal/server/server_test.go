package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/arena"
	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ledger"
	"github.com/iliarafa/llmarena/internal/store"
)

const testWebhookSecret = "whsec_testsecret"

type stubComparer struct {
	outcome   *domain.ComparisonOutcome
	err       error
	principal domain.Principal
	request   domain.ComparisonRequest
	calls     int
}

func (c *stubComparer) Compare(_ context.Context, p domain.Principal, req domain.ComparisonRequest) (*domain.ComparisonOutcome, error) {
	c.calls++
	c.principal = p
	c.request = req
	if c.err != nil {
		return nil, c.err
	}
	return c.outcome, nil
}

type serverFixture struct {
	srv      *httptest.Server
	store    store.Store
	ledger   *ledger.Ledger
	comparer *stubComparer
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	l := ledger.New(st, zap.NewNop(), domain.CreditsFromInt(10))
	comparer := &stubComparer{outcome: &domain.ComparisonOutcome{CreditsCharged: 5}}

	s := New(Config{WebhookSecret: testWebhookSecret}, comparer, l, st, nil, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, store: st, ledger: l, comparer: comparer}
}

func (f *serverFixture) do(t *testing.T, method, path string, headers map[string]string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// stripeSignature builds the v1 signature scheme the processor sends:
// an HMAC-SHA256 of "<timestamp>.<payload>".
func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func paymentEventPayload(eventID string, kind domain.PrincipalKind, ref string, credits int) []byte {
	object, _ := json.Marshal(map[string]any{
		"principal_kind": kind,
		"principal_ref":  ref,
		"credits_to_add": credits,
	})
	payload, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "payment_intent.succeeded",
		"data": map[string]any{"object": json.RawMessage(object)},
	})
	return payload
}

func TestCompare_AccountPrincipalPassedThrough(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/compare",
		map[string]string{"X-User-ID": "user-1"},
		domain.ComparisonRequest{Prompt: "q", Providers: []domain.ProviderID{domain.ProviderOpenAI}},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[domain.ComparisonOutcome](t, resp)
	assert.Equal(t, 5, body.CreditsCharged)
	assert.Equal(t, domain.AccountPrincipal("user-1"), f.comparer.principal)
	assert.Equal(t, "q", f.comparer.request.Prompt)

	// First sight of the user created the account with the starter
	// grant.
	account, err := f.store.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), account.Balance)
}

func TestCompare_InsufficientCreditsIs402(t *testing.T) {
	f := newServerFixture(t)
	f.comparer.err = &domain.InsufficientCreditsError{Required: 8, Available: domain.CreditsFromInt(5)}

	resp := f.do(t, http.MethodPost, "/api/compare",
		map[string]string{"X-User-ID": "user-1"},
		domain.ComparisonRequest{Prompt: "q", Providers: []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic}},
	)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	body := decodeBody[struct {
		Required  int            `json:"required_credits"`
		Available domain.Credits `json:"available_credits"`
	}](t, resp)
	assert.Equal(t, 8, body.Required)
	assert.Equal(t, domain.CreditsFromInt(5), body.Available)
}

func TestCompare_InvalidRequestIs400(t *testing.T) {
	f := newServerFixture(t)
	f.comparer.err = fmt.Errorf("%w: empty prompt", arena.ErrInvalidRequest)

	resp := f.do(t, http.MethodPost, "/api/compare",
		map[string]string{"X-User-ID": "user-1"},
		domain.ComparisonRequest{Providers: []domain.ProviderID{domain.ProviderOpenAI}},
	)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompare_MalformedBodyIs400WithoutComparerCall(t *testing.T) {
	f := newServerFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/compare", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, f.comparer.calls)
}

func TestBalance_MintsGuestWhenNoCredential(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodGet, "/api/balance", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	token := resp.Header.Get("X-Guest-Token")
	require.True(t, strings.HasPrefix(token, "gt_"), "minted token %q", token)

	body := decodeBody[struct {
		Kind    domain.PrincipalKind `json:"kind"`
		Balance domain.Credits       `json:"balance"`
	}](t, resp)
	assert.Equal(t, domain.PrincipalGuest, body.Kind)
	assert.Equal(t, domain.CreditsFromInt(10), body.Balance, "starter grant")

	guest, err := f.store.GetGuest(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), guest.Balance)
}

func TestBalance_ExistingGuestTokenIsNotReminted(t *testing.T) {
	f := newServerFixture(t)
	guest, err := f.ledger.MintGuest(context.Background())
	require.NoError(t, err)
	_, err = f.store.Debit(context.Background(), domain.GuestPrincipal(guest.Token), domain.CreditsFromInt(3))
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/balance",
		map[string]string{"X-Guest-Token": guest.Token}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Guest-Token"), "recognized tokens are not replaced")

	body := decodeBody[struct {
		Balance domain.Credits `json:"balance"`
	}](t, resp)
	assert.Equal(t, domain.CreditsFromInt(7), body.Balance)
}

func TestLink_TransfersOnceThenConflicts(t *testing.T) {
	f := newServerFixture(t)
	guest, err := f.ledger.MintGuest(context.Background())
	require.NoError(t, err)

	headers := map[string]string{"X-User-ID": "user-1"}
	resp := f.do(t, http.MethodPost, "/api/account/link", headers, linkRequest{GuestToken: guest.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Transferred domain.Credits `json:"credits_transferred"`
		Balance     domain.Credits `json:"balance"`
	}](t, resp)
	assert.Equal(t, domain.CreditsFromInt(10), body.Transferred)
	assert.Equal(t, domain.CreditsFromInt(20), body.Balance, "starter grant plus guest balance")

	resp = f.do(t, http.MethodPost, "/api/account/link", headers, linkRequest{GuestToken: guest.Token})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLink_GuestCallerIsForbidden(t *testing.T) {
	f := newServerFixture(t)
	guest, err := f.ledger.MintGuest(context.Background())
	require.NoError(t, err)
	other, err := f.ledger.MintGuest(context.Background())
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/account/link",
		map[string]string{"X-Guest-Token": guest.Token},
		linkRequest{GuestToken: other.Token},
	)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLink_UnknownTokenIs404(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/api/account/link",
		map[string]string{"X-User-ID": "user-1"},
		linkRequest{GuestToken: "gt_doesnotexist"},
	)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (f *serverFixture) postWebhook(t *testing.T, payload []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhooks/payment", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", signature)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhook_CreditsOnceAndIgnoresReplay(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.store.CreateAccount(context.Background(), "user-1", domain.CreditsFromInt(10), false)
	require.NoError(t, err)

	payload := paymentEventPayload("evt_1", domain.PrincipalAccount, "user-1", 60)

	resp := f.postWebhook(t, payload, stripeSignature(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance, err := f.store.Balance(context.Background(), domain.AccountPrincipal("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(70), balance)

	// Processors redeliver; the second delivery must acknowledge
	// without crediting again.
	resp = f.postWebhook(t, payload, stripeSignature(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance, err = f.store.Balance(context.Background(), domain.AccountPrincipal("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(70), balance)
}

func TestWebhook_BadSignatureIs400(t *testing.T) {
	f := newServerFixture(t)
	payload := paymentEventPayload("evt_2", domain.PrincipalAccount, "user-1", 60)

	resp := f.postWebhook(t, payload, stripeSignature(payload, "whsec_wrong"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_NonTierAmountRejected(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.store.CreateAccount(context.Background(), "user-1", domain.CreditsFromInt(10), false)
	require.NoError(t, err)

	payload := paymentEventPayload("evt_3", domain.PrincipalAccount, "user-1", 999)
	resp := f.postWebhook(t, payload, stripeSignature(payload, testWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	balance, err := f.store.Balance(context.Background(), domain.AccountPrincipal("user-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(10), balance, "rejected events never credit")
}

func TestWebhook_GuestTopUp(t *testing.T) {
	f := newServerFixture(t)
	guest, err := f.ledger.MintGuest(context.Background())
	require.NoError(t, err)

	payload := paymentEventPayload("evt_4", domain.PrincipalGuest, guest.Token, 25)
	resp := f.postWebhook(t, payload, stripeSignature(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	balance, err := f.store.Balance(context.Background(), domain.GuestPrincipal(guest.Token))
	require.NoError(t, err)
	assert.Equal(t, domain.CreditsFromInt(35), balance)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
