package ddns

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
)

// Signer produces the canonical HMAC-SHA1 signature shared by the
// query-string signed vendor APIs.
type Signer struct {
	Secret string
	// KeySuffix is appended to Secret to form the MAC key.
	KeySuffix string
	// StringToSign lays out the canonical query in the vendor's format.
	StringToSign func(canonical string) string
}

// AliyunStringToSign builds "GET&%2F&" followed by the encoded canonical query.
func AliyunStringToSign(canonical string) string {
	return http.MethodGet + "&" + PercentEncode("/") + "&" + PercentEncode(canonical)
}

// TencentStringToSign builds "GET" + host + path + "?" + canonical query.
func TencentStringToSign(host, path string) func(string) string {
	return func(canonical string) string {
		return http.MethodGet + host + path + "?" + canonical
	}
}

// Canonicalize drops empty values, sorts keys by byte order and joins the
// percent-encoded pairs with '&'.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(PercentEncode(k))
		b.WriteByte('=')
		b.WriteString(PercentEncode(params[k]))
	}
	return b.String()
}

// Sign returns the base64 signature of params.
func (s Signer) Sign(params map[string]string) string {
	return s.sign(Canonicalize(params))
}

// Query returns the canonical query with the Signature parameter appended.
func (s Signer) Query(params map[string]string) string {
	canonical := Canonicalize(params)
	return canonical + "&Signature=" + PercentEncode(s.sign(canonical))
}

func (s Signer) sign(canonical string) string {
	mac := hmac.New(sha1.New, []byte(s.Secret+s.KeySuffix))
	mac.Write([]byte(s.StringToSign(canonical)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const upperHex = "0123456789ABCDEF"

// PercentEncode escapes everything except the RFC 3986 unreserved set,
// using upper-case hex digits.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
