package ddns

import (
	"context"
	"errors"
	"strings"
	"sync"

	"ddnsd/log"

	cfapi "github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

type cloudflare struct {
	api   *cfapi.API
	token bool

	mu    sync.Mutex
	zones map[string]string
}

type logger struct {
	ctx context.Context
}

func (l *logger) Printf(format string, v ...interface{}) {
	log.S(l.ctx).Debugf(format, v...)
}

func newCloudflare() Interface {
	return &cloudflare{zones: map[string]string{}}
}

func (d *cloudflare) ID() string   { return "cloudflare" }
func (d *cloudflare) Name() string { return "Cloudflare" }

func (d *cloudflare) SupportedRecordTypes() []string {
	return DefaultRecordTypes
}

// Initialize accepts an API token in APIKey, or the account email in
// Extra["email"] together with the global key in APISecret.
func (d *cloudflare) Initialize(ctx context.Context, c Credentials) error {
	ctx = log.SWith(ctx, log.Provider(d.ID()))

	opts := []cfapi.Option{
		cfapi.HTTPClient(httpClient(ctx)),
		cfapi.UsingLogger(&logger{ctx: ctx}),
		cfapi.UsingRetryPolicy(0, 0, 1),
	}
	if endpoint := c.Get("endpoint"); endpoint != "" {
		opts = append(opts, cfapi.BaseURL(endpoint))
	}

	var api *cfapi.API
	var err error
	email := c.Get("email")

	switch {
	case c.APIKey != "":
		api, err = cfapi.NewWithAPIToken(c.APIKey, opts...)
		d.token = true
	case email != "" && c.APISecret != "":
		api, err = cfapi.New(c.APISecret, email, opts...)
		d.token = false
	default:
		return newError(d.ID(), InvalidConfig, "api_key (token) or email with api_secret is required", nil)
	}

	if err != nil {
		log.S(ctx).Errorw("failed create cloudflare API", zap.Error(err))
		return newError(d.ID(), InvalidConfig, "create client", err)
	}

	d.api = api
	if err := d.TestConnection(ctx); err != nil {
		log.S(ctx).Warnw("credential check failed", zap.Error(err))
		d.api = nil
		return err
	}
	return nil
}

func (d *cloudflare) TestConnection(ctx context.Context) error {
	if d.api == nil {
		return newError(d.ID(), InvalidConfig, "", ErrNotInitialized)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if !d.token {
		_, err := d.api.UserDetails(ctx)
		return d.classify(err, "verify key")
	}

	res, err := d.api.VerifyAPIToken(ctx)
	if err != nil {
		return d.classify(err, "verify token")
	}
	if res.Status != "active" {
		return newError(d.ID(), AuthenticationFailed, "token status is "+res.Status, nil)
	}
	return nil
}

func (d *cloudflare) classify(err error, detail string) error {
	if err == nil {
		return nil
	}

	var authz *cfapi.AuthorizationError
	var authn *cfapi.AuthenticationError
	var notFound *cfapi.NotFoundError
	var limited *cfapi.RatelimitError
	var apiErr *cfapi.Error

	kind := APIError
	switch {
	case errors.As(err, &authz), errors.As(err, &authn):
		kind = AuthenticationFailed
	case errors.As(err, &limited):
		kind = RateLimitExceeded
	case errors.As(err, &notFound):
		kind = RecordNotFound
	case errors.As(err, &apiErr):
		kind = APIError
	case isNetworkError(err):
		kind = NetworkError
	// Retries exhausted on HTTP 429 surface as a plain error.
	case strings.Contains(err.Error(), "rate limit"):
		kind = RateLimitExceeded
	}

	return newError(d.ID(), kind, detail, err)
}

func (d *cloudflare) zone(ctx context.Context, domain string) (*cfapi.ResourceContainer, error) {
	if d.api == nil {
		return nil, newError(d.ID(), InvalidConfig, "", ErrNotInitialized)
	}

	d.mu.Lock()
	id, ok := d.zones[domain]
	d.mu.Unlock()
	if ok {
		return cfapi.ZoneIdentifier(id), nil
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	name := strings.ToLower(strings.TrimSuffix(domain, "."))
	res, err := d.api.ListZonesContext(ctx, cfapi.WithZoneFilters(name, "", ""))
	if err != nil {
		log.S(ctx).Warnw("failed get zone id", "zone", domain, zap.Error(err))
		return nil, d.classify(err, "lookup zone "+domain)
	}

	switch len(res.Result) {
	case 0:
		log.S(ctx).Warnw("zone not found", "zone", domain)
		return nil, newError(d.ID(), DomainNotFound, domain, nil)
	case 1:
		id = res.Result[0].ID
	default:
		log.S(ctx).Warnw("ambiguous zone name", "zone", domain, "count", len(res.Result))
		return nil, newError(d.ID(), DomainNotFound, "ambiguous zone name "+domain, nil)
	}

	d.mu.Lock()
	d.zones[domain] = id
	d.mu.Unlock()
	return cfapi.ZoneIdentifier(id), nil
}

func (d *cloudflare) toRecord(r cfapi.DNSRecord, domain string) Record {
	return Record{
		ID:       r.ID,
		Name:     RelativeName(r.Name, domain),
		Type:     r.Type,
		Content:  r.Content,
		TTL:      r.TTL,
		Proxied:  r.Proxied,
		Priority: r.Priority,
	}
}

func (d *cloudflare) list(ctx context.Context, domain string, params cfapi.ListDNSRecordsParams) ([]Record, error) {
	ctx = log.SWith(ctx, log.Provider(d.ID()), "zone", domain)

	rc, err := d.zone(ctx, domain)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	cfRecords, _, err := d.api.ListDNSRecords(ctx, rc, params)
	if err != nil {
		log.S(ctx).Warnw("failed list records", zap.Error(err))
		return nil, d.classify(err, "list records")
	}

	records := make([]Record, 0, len(cfRecords))
	for _, r := range cfRecords {
		records = append(records, d.toRecord(r, domain))
	}

	log.S(ctx).Debugw("listed records", "count", len(records))
	return records, nil
}

func (d *cloudflare) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	return d.list(ctx, domain, cfapi.ListDNSRecordsParams{})
}

// GetRecord filters on the vendor side instead of scanning the whole zone.
func (d *cloudflare) GetRecord(ctx context.Context, domain, name, recordType string) (*Record, error) {
	records, err := d.list(ctx, domain, cfapi.ListDNSRecordsParams{
		Name: AbsoluteName(name, domain),
		Type: recordType,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// UpdateRecord keeps the TTL and proxy flag of the existing record.
func (d *cloudflare) UpdateRecord(ctx context.Context, domain, recordID, content string) (UpdateResult, error) {
	ctx = log.SWith(ctx, log.Provider(d.ID()), "zone", domain, "record_id", recordID)

	rc, err := d.zone(ctx, domain)
	if err != nil {
		return UpdateResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	current, err := d.api.GetDNSRecord(ctx, rc, recordID)
	if err != nil {
		log.S(ctx).Warnw("failed read record", zap.Error(err))
		return UpdateResult{}, d.classify(err, "read record")
	}

	if current.Content == content {
		return unchanged(recordID, content), nil
	}

	updated, err := d.api.UpdateDNSRecord(ctx, rc, cfapi.UpdateDNSRecordParams{
		ID:      recordID,
		Type:    current.Type,
		Name:    current.Name,
		Content: content,
		TTL:     current.TTL,
		Proxied: current.Proxied,
	})
	if err != nil {
		log.S(ctx).Warnw("failed update record", zap.Error(err))
		return UpdateResult{}, d.classify(err, "update record")
	}

	log.S(ctx).Infow("record updated", "old", current.Content, "new", updated.Content)
	return UpdateResult{
		Success:    true,
		RecordID:   updated.ID,
		OldContent: current.Content,
		NewContent: updated.Content,
		Message:    "record updated",
	}, nil
}

// CreateRecord uses automatic TTL and leaves the record unproxied.
func (d *cloudflare) CreateRecord(ctx context.Context, domain, name, recordType, content string) (Record, error) {
	ctx = log.SWith(ctx, log.Provider(d.ID()), "zone", domain)

	rc, err := d.zone(ctx, domain)
	if err != nil {
		return Record{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	created, err := d.api.CreateDNSRecord(ctx, rc, cfapi.CreateDNSRecordParams{
		Type:    recordType,
		Name:    AbsoluteName(name, domain),
		Content: content,
		TTL:     1,
		Proxied: cfapi.BoolPtr(false),
	})
	if err != nil {
		log.S(ctx).Warnw("failed create record", zap.Error(err))
		return Record{}, d.classify(err, "create record")
	}

	log.S(ctx).Infow("record created", "name", created.Name, "ns_type", created.Type, "record_id", created.ID)
	return d.toRecord(created, domain), nil
}

func (d *cloudflare) DeleteRecord(ctx context.Context, domain, recordID string) error {
	ctx = log.SWith(ctx, log.Provider(d.ID()), "zone", domain)

	rc, err := d.zone(ctx, domain)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := d.api.DeleteDNSRecord(ctx, rc, recordID); err != nil {
		return d.classify(err, "delete record")
	}
	return nil
}
