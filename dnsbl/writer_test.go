package dnsbl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ipshipyard/dnsbl-cache/resolver"
	"github.com/ipshipyard/dnsbl-cache/store"
)

const testZone = "zen.example.org"

// staticLookuper lists 127.0.0.2 and nothing else, like a DNSBL test zone.
type staticLookuper struct{}

func (staticLookuper) Lookup(ctx context.Context, name string) ([]string, error) {
	if name == "2.0.0.127."+testZone {
		return []string{"127.0.0.2"}, nil
	}
	return []string{}, nil
}

func newTestWriter(t *testing.T, users map[string]string) (*dnsblWriter, *httptest.Server) {
	t.Helper()
	st := store.New(dssync.MutexWrap(datastore.NewMapDatastore()))
	t.Cleanup(func() { _ = st.Close() })

	w := &dnsblWriter{
		Users: users,
		Store: st,
		Batch: resolver.NewBatch(resolver.New(testZone, staticLookuper{}, st), 4),
	}
	srv := httptest.NewServer(withRequestMetrics(w.routes()))
	t.Cleanup(srv.Close)
	return w, srv
}

func doRequest(t *testing.T, method, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEnqueueAndGetRecord(t *testing.T) {
	_, srv := newTestWriter(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/enqueue",
		`{"addresses": ["127.0.0.2", "127.0.0.1", "127.0.0", "127.0.0.2"]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body enqueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"127.0.0.2", "127.0.0.1", "127.0.0", "127.0.0.2"}, body.Addresses)
	require.Len(t, body.Results, 4)
	assert.Equal(t, []string{"127.0.0.2"}, body.Results[0].Codes)
	assert.Empty(t, body.Results[1].Codes)
	assert.Empty(t, body.Results[1].Error)
	assert.Contains(t, body.Results[2].Error, "incorrect format")
	assert.Empty(t, body.Results[3].Error)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/records/127.0.0.2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec store.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "127.0.0.2", rec.Address)
	assert.Equal(t, []string{"127.0.0.2"}, rec.Codes)
	assert.True(t, rec.Created.Before(rec.Updated), "second occurrence updated the record")

	// clean record exists, with no codes
	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/records/127.0.0.1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec = store.Record{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Empty(t, rec.Codes)
}

func TestGetRecordNotFound(t *testing.T) {
	_, srv := newTestWriter(t, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/records/192.0.2.1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Details for given IP address cannot be found", body["error"])
}

func TestDeleteRecord(t *testing.T) {
	w, srv := newTestWriter(t, nil)
	_, err := w.Store.Upsert(context.Background(), "192.0.2.1", nil)
	require.NoError(t, err)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/v1/records/192.0.2.1", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/records/192.0.2.1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCodes(t *testing.T) {
	_, srv := newTestWriter(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/enqueue", `{"addresses": ["127.0.0.2"]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/codes", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Codes []store.ResultCode `json:"codes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Codes, 1)
	assert.Equal(t, "127.0.0.2", body.Codes[0].Text)
}

func TestEnqueueBadRequests(t *testing.T) {
	_, srv := newTestWriter(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "127.0.0.2"},
		{name: "unknown field", body: `{"ips": ["127.0.0.2"]}`},
		{name: "missing addresses", body: `{}`},
		{name: "wrong type", body: `{"addresses": "127.0.0.2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/v1/enqueue", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

}

func TestWrongMethod(t *testing.T) {
	_, srv := newTestWriter(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/v1/enqueue"},
		{method: http.MethodPut, path: "/v1/records/192.0.2.1"},
		{method: http.MethodPost, path: "/v1/codes"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := doRequest(t, tt.method, srv.URL+tt.path, "", nil)
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		})
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func basicHeader(credentials string) http.Header {
	return http.Header{"Authorization": []string{"Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))}}
}

func TestAPIRequiresAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("supersecret"), bcrypt.MinCost)
	require.NoError(t, err)
	_, srv := newTestWriter(t, map[string]string{"secureworks": string(hash)})

	tests := []struct {
		name   string
		header http.Header
		status int
		reason string
	}{
		{name: "valid", header: basicHeader("secureworks:supersecret"), status: http.StatusOK},
		{name: "no header", status: http.StatusUnauthorized, reason: "Authorization header is missing"},
		{name: "not basic", header: http.Header{"Authorization": []string{base64.StdEncoding.EncodeToString([]byte("secureworks:supersecret"))}}, status: http.StatusUnauthorized, reason: "Invalid Authorization header"},
		{name: "not base64", header: http.Header{"Authorization": []string{"Basic secureworks:supersecret"}}, status: http.StatusUnauthorized, reason: "Unable to decode Authorization header"},
		{name: "missing password", header: basicHeader("secureworks"), status: http.StatusUnauthorized, reason: "Password is missing from Authorization header"},
		{name: "unknown user", header: basicHeader("insecureworks:supersecret"), status: http.StatusUnauthorized, reason: "Invalid username and/or password"},
		{name: "wrong password", header: basicHeader("secureworks:password"), status: http.StatusUnauthorized, reason: "Invalid username and/or password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/v1/enqueue", `{"addresses": ["127.0.0.1"]}`, tt.header)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.reason == "" {
				return
			}
			assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.reason, body["error"])
		})
	}

	// reads are gated too
	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/records/127.0.0.1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{name: "remote addr only", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "xff leftmost", xff: "198.51.100.7, 10.0.0.1", remoteAddr: "10.0.0.1:1234", want: "198.51.100.7"},
		{name: "invalid xff", xff: "unknown", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "ipv6 remote", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port", remoteAddr: "192.0.2.9", want: "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
