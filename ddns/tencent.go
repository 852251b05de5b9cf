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
	tencentEndpoint    = "https://cns.api.qcloud.com/v2/index.php"
	tencentDefaultLine = "默认"
	tencentPageSize    = 100
)

type tencent struct {
	api      *signedAPI
	secretID string
	region   string
	line     string

	now   func() time.Time
	nonce func() string
}

// looseString accepts a JSON string or number, both of which the vendor
// uses for ids and counters.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*s = looseString(b)
	return nil
}

func (s looseString) Int() int {
	n, _ := strconv.Atoi(string(s))
	return n
}

type tencentResponse struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	CodeDesc string          `json:"codeDesc"`
	Data     json.RawMessage `json:"data"`
}

type tencentRecord struct {
	ID    looseString `json:"id"`
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value string      `json:"value"`
	TTL   looseString `json:"ttl"`
	Line  string      `json:"line"`
	MX    looseString `json:"mx"`
}

type tencentRecordList struct {
	Info struct {
		RecordTotal looseString `json:"record_total"`
	} `json:"info"`
	Records []tencentRecord `json:"records"`
}

type tencentRecordRef struct {
	Record struct {
		ID   looseString `json:"id"`
		Name string      `json:"name"`
	} `json:"record"`
}

func newTencent() Interface {
	return &tencent{
		now: time.Now,
		nonce: func() string {
			return strconv.FormatUint(uint64(uuid.New().ID()), 10)
		},
	}
}

func (t *tencent) ID() string   { return "tencent" }
func (t *tencent) Name() string { return "Tencent Cloud DNS" }

func (t *tencent) SupportedRecordTypes() []string {
	return []string{"A", "AAAA", "CNAME", "MX", "TXT"}
}

func (t *tencent) Initialize(ctx context.Context, c Credentials) error {
	ctx = log.SWith(ctx, log.Provider(t.ID()))

	secretID := c.AccessKey
	if secretID == "" {
		secretID = c.Get("secret_id")
	}
	secretKey := c.APISecret
	if secretKey == "" {
		secretKey = c.Get("secret_key")
	}
	if secretID == "" || secretKey == "" {
		return newError(t.ID(), InvalidConfig, "access_key (SecretId) and api_secret (SecretKey) are required", nil)
	}

	endpoint := c.Get("endpoint")
	if endpoint == "" {
		endpoint = tencentEndpoint
	}
	u, err := parseEndpoint(t.ID(), endpoint)
	if err != nil {
		return err
	}

	t.secretID = secretID
	t.region = c.Region
	t.line = c.Get("record_line")
	if t.line == "" {
		t.line = tencentDefaultLine
	}
	t.api = &signedAPI{
		provider: t.ID(),
		endpoint: u,
		signer:   Signer{Secret: secretKey, StringToSign: TencentStringToSign(u.Host, u.Path)},
	}

	if err := t.TestConnection(ctx); err != nil {
		log.S(ctx).Warnw("credential check failed", zap.Error(err))
		t.api = nil
		return err
	}
	return nil
}

func (t *tencent) params(action string, fields map[string]string) map[string]string {
	p := map[string]string{
		"Action":          action,
		"Nonce":           t.nonce(),
		"SecretId":        t.secretID,
		"SignatureMethod": "HmacSHA1",
		"Timestamp":       strconv.FormatInt(t.now().Unix(), 10),
		"Region":          t.region,
	}
	maps.Copy(p, fields)
	return p
}

func (t *tencent) request(ctx context.Context, action string, fields map[string]string, out any) error {
	if t.api == nil {
		return newError(t.ID(), InvalidConfig, "", ErrNotInitialized)
	}

	status, body, err := t.api.call(ctx, t.params(action, fields))
	if err != nil {
		return err
	}

	var resp tencentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status != http.StatusOK {
			return t.classify(status, resp)
		}
		return newError(t.ID(), ParseError, action, err)
	}

	if status != http.StatusOK || resp.Code != 0 {
		err := t.classify(status, resp)
		log.S(ctx).Warnw("vendor rejected request", "action", action, "code", resp.Code, "code_desc", resp.CodeDesc, zap.Error(err))
		return err
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return newError(t.ID(), ParseError, action, err)
	}
	return nil
}

func (t *tencent) classify(status int, resp tencentResponse) error {
	detail := resp.CodeDesc
	if resp.Message != "" {
		if detail != "" {
			detail += ": "
		}
		detail += resp.Message
	}
	if detail == "" {
		detail = "HTTP " + strconv.Itoa(status)
	}

	kind := APIError
	switch {
	case resp.Code == 4100, resp.Code == 4300, strings.HasPrefix(resp.CodeDesc, "AuthFailure"),
		status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = AuthenticationFailed
	case strings.Contains(resp.CodeDesc, "LimitExceeded"), status == http.StatusTooManyRequests:
		kind = RateLimitExceeded
	case strings.Contains(resp.CodeDesc, "Domain") && strings.Contains(resp.CodeDesc, "NotExist"):
		kind = DomainNotFound
	case strings.Contains(resp.CodeDesc, "Record") && strings.Contains(resp.CodeDesc, "NotExist"):
		kind = RecordNotFound
	}

	return newError(t.ID(), kind, detail, nil)
}

func (t *tencent) toRecord(r tencentRecord) Record {
	rec := Record{
		ID:      string(r.ID),
		Name:    r.Name,
		Type:    r.Type,
		Content: r.Value,
		TTL:     r.TTL.Int(),
	}
	if r.Type == "MX" {
		mx := uint16(r.MX.Int())
		rec.Priority = &mx
	}
	return rec
}

func (t *tencent) list(ctx context.Context, domain string) ([]tencentRecord, error) {
	var records []tencentRecord
	for offset := 0; ; offset += tencentPageSize {
		var page tencentRecordList
		err := t.request(ctx, "RecordList", map[string]string{
			"domain": domain,
			"offset": strconv.Itoa(offset),
			"length": strconv.Itoa(tencentPageSize),
		}, &page)
		if err != nil {
			return nil, err
		}

		records = append(records, page.Records...)
		if len(page.Records) == 0 || len(records) >= page.Info.RecordTotal.Int() {
			return records, nil
		}
	}
}

func (t *tencent) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	ctx = log.SWith(ctx, log.Provider(t.ID()), "zone", domain)

	raw, err := t.list(ctx, domain)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, t.toRecord(r))
	}

	log.S(ctx).Debugw("listed records", "count", len(records))
	return records, nil
}

func (t *tencent) GetRecord(ctx context.Context, domain, name, recordType string) (*Record, error) {
	return FindRecord(ctx, t, domain, name, recordType)
}

func (t *tencent) UpdateRecord(ctx context.Context, domain, recordID, content string) (UpdateResult, error) {
	ctx = log.SWith(ctx, log.Provider(t.ID()), "zone", domain, "record_id", recordID)

	raw, err := t.list(ctx, domain)
	if err != nil {
		return UpdateResult{}, err
	}

	var current *tencentRecord
	for i := range raw {
		if string(raw[i].ID) == recordID {
			current = &raw[i]
			break
		}
	}
	if current == nil {
		return UpdateResult{}, newError(t.ID(), RecordNotFound, "record "+recordID, nil)
	}

	if current.Value == content {
		return unchanged(recordID, content), nil
	}

	line := current.Line
	if line == "" {
		line = t.line
	}

	var ref tencentRecordRef
	err = t.request(ctx, "RecordModify", map[string]string{
		"domain":     domain,
		"recordId":   recordID,
		"subDomain":  current.Name,
		"recordType": current.Type,
		"recordLine": line,
		"value":      content,
		"ttl":        string(current.TTL),
	}, &ref)
	if err != nil {
		return UpdateResult{}, err
	}

	id := string(ref.Record.ID)
	if id == "" {
		id = recordID
	}

	log.S(ctx).Infow("record updated", "old", current.Value, "new", content)
	return UpdateResult{
		Success:    true,
		RecordID:   id,
		OldContent: current.Value,
		NewContent: content,
		Message:    "record updated",
	}, nil
}

func (t *tencent) CreateRecord(ctx context.Context, domain, name, recordType, content string) (Record, error) {
	ctx = log.SWith(ctx, log.Provider(t.ID()), "zone", domain)

	var ref tencentRecordRef
	err := t.request(ctx, "RecordCreate", map[string]string{
		"domain":     domain,
		"subDomain":  normalizeLabel(name),
		"recordType": recordType,
		"recordLine": t.line,
		"value":      content,
	}, &ref)
	if err != nil {
		return Record{}, err
	}

	log.S(ctx).Infow("record created", "name", name, "ns_type", recordType, "record_id", ref.Record.ID)
	return Record{ID: string(ref.Record.ID), Name: normalizeLabel(name), Type: recordType, Content: content}, nil
}

func (t *tencent) DeleteRecord(ctx context.Context, domain, recordID string) error {
	ctx = log.SWith(ctx, log.Provider(t.ID()), "zone", domain)
	return t.request(ctx, "RecordDelete", map[string]string{"domain": domain, "recordId": recordID}, nil)
}

func (t *tencent) TestConnection(ctx context.Context) error {
	return t.request(ctx, "DomainList", map[string]string{"length": "1"}, nil)
}
