package ddns

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"ddnsd/log"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func newTencentVendor(t *testing.T, handle func(call vendorCall) (int, any)) (*signedVendor, *httptest.Server, string) {
	v := &signedVendor{t: t, handle: handle}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)

	endpoint := srv.URL + "/v2/index.php"
	u, err := url.Parse(endpoint)
	assert.NilError(t, err)
	v.signer = Signer{Secret: "testsecret", StringToSign: TencentStringToSign(u.Host, u.Path)}
	return v, srv, endpoint
}

func fixedTencent() *tencent {
	tc := newTencent().(*tencent)
	tc.now = fixedNow
	tc.nonce = func() string { return "42" }
	tc.secretID = "testid"
	return tc
}

func initTencent(t *testing.T, endpoint string) *tencent {
	tc := fixedTencent()
	err := tc.Initialize(log.Nop(), Credentials{
		Provider:  "tencent",
		AccessKey: "testid",
		APISecret: "testsecret",
		Extra:     map[string]string{"endpoint": endpoint},
	})
	assert.NilError(t, err)
	return tc
}

func tencentOK(data any) map[string]any {
	return map[string]any{"code": 0, "message": "", "codeDesc": "Success", "data": data}
}

func TestTencentSignatureRegression(t *testing.T) {
	tc := fixedTencent()
	params := tc.params("RecordList", map[string]string{"domain": "example.com", "subDomain": ""})

	s := Signer{Secret: "testsecret", StringToSign: TencentStringToSign("cns.api.qcloud.com", "/v2/index.php")}
	assert.Equal(t, Canonicalize(params), "Action=RecordList&Nonce=42&SecretId=testid&SignatureMethod=HmacSHA1&Timestamp=1700000000&domain=example.com")
	assert.Equal(t, s.Sign(params), "0De2pjRw9eTPX9904we7q+Vz5Aw=")
}

func TestTencentInitializeMissingSecret(t *testing.T) {
	err := newTencent().Initialize(log.Nop(), Credentials{APISecret: "testsecret"})
	assert.Equal(t, KindOf(err), InvalidConfig)
}

func TestTencentInitializeRejectedCredentials(t *testing.T) {
	_, _, endpoint := newTencentVendor(t, func(call vendorCall) (int, any) {
		return http.StatusOK, map[string]any{"code": 4100, "message": "authentication failed", "codeDesc": "AuthFailure"}
	})

	tc := fixedTencent()
	err := tc.Initialize(log.Nop(), Credentials{AccessKey: "testid", APISecret: "testsecret", Extra: map[string]string{"endpoint": endpoint}})
	assert.Assert(t, is.ErrorIs(err, ErrAuthentication))
	assert.ErrorContains(t, err, "AuthFailure")
}

func TestTencentListAndUpdate(t *testing.T) {
	v, _, endpoint := newTencentVendor(t, func(call vendorCall) (int, any) {
		switch call.Action {
		case "DomainList":
			return http.StatusOK, tencentOK(map[string]any{"info": map[string]any{"domain_total": 1}})
		case "RecordList":
			assert.Check(t, is.Equal(call.Query.Get("domain"), "example.com"))
			return http.StatusOK, tencentOK(map[string]any{
				"info": map[string]any{"record_total": "2"},
				"records": []map[string]any{
					{"id": 123, "name": "@", "type": "MX", "value": "mail.example.com.", "ttl": 600, "line": "默认", "mx": 10},
					{"id": 456, "name": "home", "type": "A", "value": "1.2.3.4", "ttl": 600, "line": "电信", "mx": 0},
				},
			})
		case "RecordModify":
			assert.Check(t, is.Equal(call.Query.Get("recordId"), "456"))
			assert.Check(t, is.Equal(call.Query.Get("subDomain"), "home"))
			assert.Check(t, is.Equal(call.Query.Get("recordLine"), "电信"))
			assert.Check(t, is.Equal(call.Query.Get("value"), "5.6.7.8"))
			return http.StatusOK, tencentOK(map[string]any{"record": map[string]any{"id": 456, "name": "home", "value": "5.6.7.8"}})
		}
		return http.StatusOK, map[string]any{"code": 4000, "codeDesc": "InvalidParameter"}
	})

	tc := initTencent(t, endpoint)
	ctx := log.Nop()

	records, err := tc.ListRecords(ctx, "example.com")
	assert.NilError(t, err)
	assert.Assert(t, is.Len(records, 2))
	assert.Equal(t, *records[0].Priority, uint16(10))
	assert.Equal(t, records[1].ID, "456")

	r, err := tc.GetRecord(ctx, "example.com", "home", "A")
	assert.NilError(t, err)
	assert.Equal(t, r.Content, "1.2.3.4")

	res, err := tc.UpdateRecord(ctx, "example.com", "456", "5.6.7.8")
	assert.NilError(t, err)
	assert.Equal(t, res.RecordID, "456")
	assert.Equal(t, res.OldContent, "1.2.3.4")
	assert.Equal(t, res.NewContent, "5.6.7.8")

	_, err = tc.UpdateRecord(ctx, "example.com", "999", "5.6.7.8")
	assert.Equal(t, KindOf(err), RecordNotFound)

	assert.DeepEqual(t, v.actions(), []string{"DomainList", "RecordList", "RecordList", "RecordList", "RecordModify", "RecordList"})
}

func TestTencentCreateUsesDefaultLine(t *testing.T) {
	_, _, endpoint := newTencentVendor(t, func(call vendorCall) (int, any) {
		if call.Action == "RecordCreate" {
			assert.Check(t, is.Equal(call.Query.Get("recordLine"), "默认"))
			assert.Check(t, is.Equal(call.Query.Get("subDomain"), "www"))
			return http.StatusOK, tencentOK(map[string]any{"record": map[string]any{"id": "789", "name": "www", "status": "enabled"}})
		}
		return http.StatusOK, tencentOK(nil)
	})

	tc := initTencent(t, endpoint)
	r, err := tc.CreateRecord(log.Nop(), "example.com", "www", "A", "5.6.7.8")
	assert.NilError(t, err)
	assert.Equal(t, r.ID, "789")
}

func TestTencentErrorKinds(t *testing.T) {
	tc := fixedTencent()

	cases := []struct {
		status int
		resp   tencentResponse
		kind   Kind
	}{
		{http.StatusOK, tencentResponse{Code: 4100, CodeDesc: "AuthFailure"}, AuthenticationFailed},
		{http.StatusOK, tencentResponse{Code: 4000, CodeDesc: "RequestLimitExceeded"}, RateLimitExceeded},
		{http.StatusOK, tencentResponse{Code: 4000, CodeDesc: "InvalidParameter.DomainNotExists"}, DomainNotFound},
		{http.StatusOK, tencentResponse{Code: 4000, CodeDesc: "InvalidParameter.RecordNotExists"}, RecordNotFound},
		{http.StatusOK, tencentResponse{Code: 4000, CodeDesc: "InvalidParameter"}, APIError},
		{http.StatusTooManyRequests, tencentResponse{}, RateLimitExceeded},
	}

	for _, c := range cases {
		err := tc.classify(c.status, c.resp)
		assert.Equal(t, KindOf(err), c.kind, "code_desc %q", c.resp.CodeDesc)
	}
}
