package main

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xqus/otpcard/internal/card"
	"github.com/xqus/otpcard/internal/store/memory"
)

const (
	dummyNamespace = "myapp"
	dummySecret    = "mysecret"
)

var (
	srv     *httptest.Server
	testApp *App
)

func init() {
	st := memory.New()
	testApp = &App{
		cards: card.New(st),
		store: st,
		lo:    initLogger(true),
		constants: constants{
			CodeLength: 6,
			NumCodes:   64,
		},
	}

	authCreds := map[string]string{dummyNamespace: dummySecret}
	r := chi.NewRouter()
	r.Get("/api/health", wrap(testApp, handleHealthCheck))
	r.Post("/api/cards", auth(authCreds, wrap(testApp, handleCreateCard)))
	r.Get("/api/cards/{id}/challenge", auth(authCreds, wrap(testApp, handleSelectChallenge)))
	r.Post("/api/cards/{id}/validate", auth(authCreds, wrap(testApp, handleValidateCode)))
	r.Get("/api/cards/{id}/remaining", auth(authCreds, wrap(testApp, handleRemaining)))
	srv = httptest.NewServer(r)
}

// testRequest does an authed request against the test server and
// decodes the JSON envelope's data into out.
func testRequest(t *testing.T, method, path string, form url.Values, out interface{}) int {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	req.SetBasicAuth(dummyNamespace, dummySecret)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &env), "Invalid JSON envelope: %s", b)
	if out != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode
}

// cardCodes reads the plain code list of a stored card through the
// test app's store.
func cardCodes(t *testing.T, id string) []string {
	c, _, err := testApp.store.Get(card.Namespace, id)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(c.List)
	require.NoError(t, err)

	var codes []string
	require.NoError(t, json.Unmarshal(raw, &codes))
	return codes
}

func TestHealthCheck(t *testing.T) {
	code := testRequest(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAuthRequired(t *testing.T) {
	resp, err := http.Post(srv.URL+"/api/cards", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCardFlow(t *testing.T) {
	// Issue a small card.
	var created createResp
	code := testRequest(t, http.MethodPost, "/api/cards",
		url.Values{"length": {"4"}, "num": {"3"}}, &created)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, created.ID, 12, "Unexpected card ID length")

	var rem remainingResp
	code = testRequest(t, http.MethodGet, "/api/cards/"+created.ID+"/remaining", nil, &rem)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, rem.Remaining)

	// Get a challenge and redeem the right code.
	var ch challengeResp
	code = testRequest(t, http.MethodGet, "/api/cards/"+created.ID+"/challenge", nil, &ch)
	require.Equal(t, http.StatusOK, code)
	require.GreaterOrEqual(t, ch.Index, 0)
	require.Less(t, ch.Index, 3)

	codes := cardCodes(t, created.ID)
	var v validateResp
	form := url.Values{"index": {strconv.Itoa(ch.Index)}, "otp": {codes[ch.Index]}}
	code = testRequest(t, http.MethodPost, "/api/cards/"+created.ID+"/validate", form, &v)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, v.Valid, "Correct code should validate")

	code = testRequest(t, http.MethodGet, "/api/cards/"+created.ID+"/remaining", nil, &rem)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, rem.Remaining)

	// Replaying the same index is rejected without consuming anything.
	code = testRequest(t, http.MethodPost, "/api/cards/"+created.ID+"/validate", form, &v)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, v.Valid, "Consumed index should not validate again")
}

func TestValidateBadParams(t *testing.T) {
	var created createResp
	code := testRequest(t, http.MethodPost, "/api/cards", nil, &created)
	require.Equal(t, http.StatusOK, code)

	code = testRequest(t, http.MethodPost, "/api/cards/"+created.ID+"/validate",
		url.Values{"index": {"0"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "Empty otp should be rejected")

	code = testRequest(t, http.MethodPost, "/api/cards/"+created.ID+"/validate",
		url.Values{"index": {"abc"}, "otp": {"123456"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "Non-numeric index should be rejected")
}

func TestUnknownCard(t *testing.T) {
	code := testRequest(t, http.MethodGet, "/api/cards/nocard123456/remaining", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = testRequest(t, http.MethodGet, "/api/cards/nocard123456/challenge", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateBadParams(t *testing.T) {
	code := testRequest(t, http.MethodPost, "/api/cards",
		url.Values{"num": {"0"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "Zero num should be rejected")

	code = testRequest(t, http.MethodPost, "/api/cards",
		url.Values{"length": {"x"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "Non-numeric length should be rejected")
}
