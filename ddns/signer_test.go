package ddns

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, PercentEncode("a b+c*d~e/f"), "a%20b%2Bc%2Ad~e%2Ff")
	assert.Equal(t, PercentEncode("默认"), "%E9%BB%98%E8%AE%A4")
	assert.Equal(t, PercentEncode("AZaz09-_.~"), "AZaz09-_.~")
	assert.Equal(t, PercentEncode("2023-11-14T22:13:20Z"), "2023-11-14T22%3A13%3A20Z")
}

func TestCanonicalizeDropsEmptyAndSorts(t *testing.T) {
	got := Canonicalize(map[string]string{
		"b": "2",
		"a": "hello world",
		"c": "",
		"z": "a/b*c~",
	})
	assert.Equal(t, got, "a=hello%20world&b=2&z=a%2Fb%2Ac~")
}

func TestCanonicalizeSortsByByteOrder(t *testing.T) {
	got := Canonicalize(map[string]string{"domain": "x", "Timestamp": "1", "Action": "y"})
	assert.Equal(t, got, "Action=y&Timestamp=1&domain=x")
}

// Published example from the Alibaba Cloud DNS signature documentation.
func TestAliyunDocumentedSignature(t *testing.T) {
	s := Signer{Secret: "testsecret", KeySuffix: "&", StringToSign: AliyunStringToSign}
	got := s.Sign(map[string]string{
		"AccessKeyId":      "testid",
		"Action":           "DescribeDomainRecords",
		"DomainName":       "example.com",
		"Format":           "XML",
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureNonce":   "f59ed6a9-83fc-473b-9cc6-99c95df3856e",
		"SignatureVersion": "1.0",
		"Timestamp":        "2016-03-24T16:41:54Z",
		"Version":          "2015-01-09",
	})
	assert.Equal(t, got, "uRpHwaSEt3J+6KQD//svCh/x+pI=")
}

func TestAliyunStringToSign(t *testing.T) {
	got := AliyunStringToSign("A=1&B=x%3Ay")
	assert.Equal(t, got, "GET&%2F&A%3D1%26B%3Dx%253Ay")
}

func TestTencentSignatureVector(t *testing.T) {
	params := map[string]string{
		"Action":          "RecordList",
		"Nonce":           "42",
		"SecretId":        "testid",
		"SignatureMethod": "HmacSHA1",
		"Timestamp":       "1700000000",
		"domain":          "example.com",
		"subDomain":       "",
	}
	s := Signer{Secret: "testsecret", StringToSign: TencentStringToSign("cns.api.qcloud.com", "/v2/index.php")}

	canonical := Canonicalize(params)
	assert.Equal(t, canonical, "Action=RecordList&Nonce=42&SecretId=testid&SignatureMethod=HmacSHA1&Timestamp=1700000000&domain=example.com")
	assert.Equal(t, s.StringToSign(canonical), "GETcns.api.qcloud.com/v2/index.php?"+canonical)
	assert.Equal(t, s.Sign(params), "0De2pjRw9eTPX9904we7q+Vz5Aw=")
	assert.Equal(t, s.Query(params), canonical+"&Signature=0De2pjRw9eTPX9904we7q%2BVz5Aw%3D")
}

func TestSignatureDependsOnSecret(t *testing.T) {
	params := map[string]string{"Action": "DescribeDomains"}
	a := Signer{Secret: "one", KeySuffix: "&", StringToSign: AliyunStringToSign}.Sign(params)
	b := Signer{Secret: "two", KeySuffix: "&", StringToSign: AliyunStringToSign}.Sign(params)
	assert.Assert(t, a != b)
	assert.Assert(t, !strings.ContainsAny(PercentEncode(a), "+/="))
}
