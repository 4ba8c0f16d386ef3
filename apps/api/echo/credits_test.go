package echoapi

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/testutil"
)

func purchaseBody(ownerID string, credits int, ref string) []byte {
	return []byte(fmt.Sprintf(`{"owner_id":%q,"credits":%d,"gateway":"Stripe","payment_ref":%q}`, ownerID, credits, ref))
}

func TestCreditAPI_purchase(t *testing.T) {
	app := setup(t)
	adminToken := getToken(t, app.srv, app.adam)

	tests := []httpTest{
		{name: "not admin", body: purchaseBody(app.sam.ID, 5, "pi_1"), token: getToken(t, app.srv, app.sam), wantCode: http.StatusForbidden},
		{
			name:     "unknown gateway",
			body:     []byte(`{"owner_id":"` + app.sam.ID + `","credits":5,"gateway":"cash","payment_ref":"pi_1"}`),
			token:    adminToken,
			wantCode: http.StatusBadRequest,
		},
		{name: "ok", body: purchaseBody(app.sam.ID, 5, "pi_1"), token: adminToken, wantCode: http.StatusCreated},
		{name: "replay", body: purchaseBody(app.sam.ID, 5, " pi_1 "), token: adminToken, wantCode: http.StatusOK},
		{
			name:     "same payment, other amount",
			body:     purchaseBody(app.sam.ID, 6, "pi_1"),
			token:    adminToken,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: ledger.ErrPaymentMismatch.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.post("/v1/credits/purchases", tt.token, tt.body))
		})
	}

	assert.Equal(t, 5, testutil.Balance(t, app.env.Ledger, app.sam.ID))
	sent := app.env.Mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, app.sam.Email, sent[0].To[0].Address)
}

func TestCreditAPI_balanceAndEntries(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken, adminToken := getToken(t, app.srv, app.sam), getToken(t, app.srv, app.adam)

	rec := app.post("/v1/credits/adjustments", adminToken, []byte(`{"owner_id":"`+app.sam.ID+`","amount":-1,"note":"goodwill reversal"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var adj ledger.Entry
	unmarshalBody(t, rec, &adj)
	assert.Equal(t, ledger.KindAdjustment, adj.Kind)
	assert.Equal(t, 3, adj.BalanceAfter)

	t.Run("balance", func(t *testing.T) {
		for _, token := range []string{samToken, adminToken} {
			path := "/v1/credits/balance"
			if token == adminToken {
				path = "/v1/credits/accounts/" + app.sam.ID
			}
			rec := app.do(newAuthRequest(http.MethodGet, path, token))
			require.Equal(t, http.StatusOK, rec.Code)
			var acc ledger.Account
			unmarshalBody(t, rec, &acc)
			assert.Equal(t, app.sam.ID, acc.OwnerID)
			assert.Equal(t, 3, acc.Balance)
		}
	})

	t.Run("entries", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/credits/entries", samToken))
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []ledger.Entry
		unmarshalBody(t, rec, &entries)
		assert.Len(t, entries, 2)

		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)},
			app.do(newAuthRequest(http.MethodGet, "/v1/credits/entries", getToken(t, app.srv, app.sue))))
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden},
			app.do(newAuthRequest(http.MethodGet, "/v1/credits/accounts/"+app.sue.ID+"/entries", samToken)))
	})

	t.Run("no account yet", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/credits/balance", getToken(t, app.srv, app.sue)))
		require.Equal(t, http.StatusOK, rec.Code)
		var acc ledger.Account
		unmarshalBody(t, rec, &acc)
		assert.Zero(t, acc.Balance)
	})

	t.Run("verify", func(t *testing.T) {
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshalObj(t, VerifyResponse{OK: true, Discrepancies: []ledger.Discrepancy{}})},
			app.do(newAuthRequest(http.MethodGet, "/v1/credits/verify", adminToken)))
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden},
			app.do(newAuthRequest(http.MethodGet, "/v1/credits/verify", samToken)))
	})
}
