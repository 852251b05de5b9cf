package ddns

import (
	"context"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ddnsd/log"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	aliyunEndpoint = "https://alidns.aliyuncs.com/"
	aliyunVersion  = "2015-01-09"
	aliyunPageSize = 500
)

type aliyun struct {
	api       *signedAPI
	accessKey string

	now   func() time.Time
	nonce func() string
}

type aliyunRecord struct {
	RecordID string  `json:"RecordId"`
	RR       string  `json:"RR"`
	Type     string  `json:"Type"`
	Value    string  `json:"Value"`
	TTL      int     `json:"TTL"`
	Priority *uint16 `json:"Priority"`
}

type aliyunRecordPage struct {
	TotalCount    int `json:"TotalCount"`
	DomainRecords struct {
		Record []aliyunRecord `json:"Record"`
	} `json:"DomainRecords"`
}

type aliyunError struct {
	Code      string `json:"Code"`
	Message   string `json:"Message"`
	RequestID string `json:"RequestId"`
}

func newAliyun() Interface {
	return &aliyun{now: time.Now, nonce: uuid.NewString}
}

func (a *aliyun) ID() string   { return "aliyun" }
func (a *aliyun) Name() string { return "Aliyun DNS" }

func (a *aliyun) SupportedRecordTypes() []string {
	return []string{"A", "AAAA", "CNAME", "MX", "TXT"}
}

func (a *aliyun) Initialize(ctx context.Context, c Credentials) error {
	ctx = log.SWith(ctx, log.Provider(a.ID()))

	accessKey := c.AccessKey
	if accessKey == "" {
		accessKey = c.Get("access_key_id")
	}
	secret := c.APISecret
	if secret == "" {
		secret = c.Get("access_key_secret")
	}
	if accessKey == "" || secret == "" {
		return newError(a.ID(), InvalidConfig, "access_key and api_secret are required", nil)
	}

	endpoint := c.Get("endpoint")
	if endpoint == "" {
		endpoint = aliyunEndpoint
	}
	u, err := parseEndpoint(a.ID(), endpoint)
	if err != nil {
		return err
	}

	a.accessKey = accessKey
	a.api = &signedAPI{
		provider: a.ID(),
		endpoint: u,
		signer:   Signer{Secret: secret, KeySuffix: "&", StringToSign: AliyunStringToSign},
	}

	if err := a.TestConnection(ctx); err != nil {
		log.S(ctx).Warnw("credential check failed", zap.Error(err))
		a.api = nil
		return err
	}
	return nil
}

// params merges the protocol fields of one call with fields.
func (a *aliyun) params(action string, fields map[string]string) map[string]string {
	p := map[string]string{
		"Action":           action,
		"Format":           "JSON",
		"Version":          aliyunVersion,
		"AccessKeyId":      a.accessKey,
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureVersion": "1.0",
		"SignatureNonce":   a.nonce(),
		"Timestamp":        a.now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	maps.Copy(p, fields)
	return p
}

func (a *aliyun) request(ctx context.Context, action string, fields map[string]string, out any) error {
	if a.api == nil {
		return newError(a.ID(), InvalidConfig, "", ErrNotInitialized)
	}

	status, body, err := a.api.call(ctx, a.params(action, fields))
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		var e aliyunError
		_ = json.Unmarshal(body, &e)
		err := a.classify(status, e)
		log.S(ctx).Warnw("vendor rejected request", "action", action, "code", e.Code, "request_id", e.RequestID, zap.Error(err))
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(a.ID(), ParseError, action, err)
	}
	return nil
}

func (a *aliyun) classify(status int, e aliyunError) error {
	detail := e.Code
	if e.Message != "" {
		detail += ": " + e.Message
	}
	if detail == "" {
		detail = "HTTP " + strconv.Itoa(status)
	}

	kind := APIError
	switch {
	case strings.HasPrefix(e.Code, "InvalidAccessKeyId"),
		strings.HasPrefix(e.Code, "Forbidden"),
		e.Code == "SignatureDoesNotMatch",
		e.Code == "IncompleteSignature",
		status == http.StatusUnauthorized:
		kind = AuthenticationFailed
	case strings.HasPrefix(e.Code, "Throttling"), status == http.StatusTooManyRequests:
		kind = RateLimitExceeded
	case e.Code == "InvalidDomainName.NoExist", e.Code == "IncorrectDomainUser":
		kind = DomainNotFound
	case e.Code == "DomainRecordNotBelongToUser", strings.HasPrefix(e.Code, "InvalidRecordId"):
		kind = RecordNotFound
	case status == http.StatusForbidden:
		kind = AuthenticationFailed
	}

	return newError(a.ID(), kind, detail, nil)
}

func (a *aliyun) toRecord(r aliyunRecord) Record {
	return Record{
		ID:       r.RecordID,
		Name:     r.RR,
		Type:     r.Type,
		Content:  r.Value,
		TTL:      r.TTL,
		Priority: r.Priority,
	}
}

func (a *aliyun) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	ctx = log.SWith(ctx, log.Provider(a.ID()), "zone", domain)

	var records []Record
	for page := 1; ; page++ {
		var resp aliyunRecordPage
		err := a.request(ctx, "DescribeDomainRecords", map[string]string{
			"DomainName": domain,
			"PageNumber": strconv.Itoa(page),
			"PageSize":   strconv.Itoa(aliyunPageSize),
		}, &resp)
		if err != nil {
			return nil, err
		}

		for _, r := range resp.DomainRecords.Record {
			records = append(records, a.toRecord(r))
		}

		if len(resp.DomainRecords.Record) == 0 || len(records) >= resp.TotalCount {
			break
		}
	}

	log.S(ctx).Debugw("listed records", "count", len(records))
	return records, nil
}

func (a *aliyun) GetRecord(ctx context.Context, domain, name, recordType string) (*Record, error) {
	return FindRecord(ctx, a, domain, name, recordType)
}

func (a *aliyun) UpdateRecord(ctx context.Context, domain, recordID, content string) (UpdateResult, error) {
	ctx = log.SWith(ctx, log.Provider(a.ID()), "zone", domain, "record_id", recordID)

	var current aliyunRecord
	if err := a.request(ctx, "DescribeDomainRecordInfo", map[string]string{"RecordId": recordID}, &current); err != nil {
		return UpdateResult{}, err
	}

	// The vendor rejects an update that does not change the value.
	if current.Value == content {
		return unchanged(recordID, content), nil
	}

	fields := map[string]string{
		"RecordId": recordID,
		"RR":       current.RR,
		"Type":     current.Type,
		"Value":    content,
	}
	if current.TTL > 0 {
		fields["TTL"] = strconv.Itoa(current.TTL)
	}

	var resp struct {
		RecordID string `json:"RecordId"`
	}
	if err := a.request(ctx, "UpdateDomainRecord", fields, &resp); err != nil {
		return UpdateResult{}, err
	}

	log.S(ctx).Infow("record updated", "old", current.Value, "new", content)
	return UpdateResult{
		Success:    true,
		RecordID:   resp.RecordID,
		OldContent: current.Value,
		NewContent: content,
		Message:    "record updated",
	}, nil
}

func (a *aliyun) CreateRecord(ctx context.Context, domain, name, recordType, content string) (Record, error) {
	ctx = log.SWith(ctx, log.Provider(a.ID()), "zone", domain)

	var resp struct {
		RecordID string `json:"RecordId"`
	}
	err := a.request(ctx, "AddDomainRecord", map[string]string{
		"DomainName": domain,
		"RR":         normalizeLabel(name),
		"Type":       recordType,
		"Value":      content,
	}, &resp)
	if err != nil {
		return Record{}, err
	}

	log.S(ctx).Infow("record created", "name", name, "ns_type", recordType, "record_id", resp.RecordID)
	return Record{ID: resp.RecordID, Name: normalizeLabel(name), Type: recordType, Content: content}, nil
}

func (a *aliyun) DeleteRecord(ctx context.Context, domain, recordID string) error {
	ctx = log.SWith(ctx, log.Provider(a.ID()), "zone", domain)
	return a.request(ctx, "DeleteDomainRecord", map[string]string{"RecordId": recordID}, nil)
}

func (a *aliyun) TestConnection(ctx context.Context) error {
	var resp struct {
		TotalCount int `json:"TotalCount"`
	}
	return a.request(ctx, "DescribeDomains", map[string]string{"PageSize": "1"}, &resp)
}
