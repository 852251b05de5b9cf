package ddns

import (
	"context"
	"errors"
	"strings"

	"ddnsd/log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	route53DefaultRegion = "us-east-1"
	route53DefaultTTL    = 300
)

type route53API interface {
	ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// route53Provider addresses records as "name|type" since Route 53 has no
// per-record identifier.
type route53Provider struct {
	api  route53API
	dial func(ctx context.Context, c Credentials) (route53API, error)

	zones map[string]string
}

func newRoute53() Interface {
	return &route53Provider{dial: dialRoute53, zones: map[string]string{}}
}

func dialRoute53(ctx context.Context, c Credentials) (route53API, error) {
	region := c.Region
	if region == "" {
		region = route53DefaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient(ctx)),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.APISecret, c.Get("session_token"))),
	)
	if err != nil {
		return nil, err
	}

	return route53.NewFromConfig(cfg, func(o *route53.Options) {
		if endpoint := c.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (p *route53Provider) ID() string   { return "aws" }
func (p *route53Provider) Name() string { return "AWS Route 53" }

func (p *route53Provider) SupportedRecordTypes() []string {
	return []string{"A", "AAAA", "CNAME", "TXT"}
}

func (p *route53Provider) Initialize(ctx context.Context, c Credentials) error {
	ctx = log.SWith(ctx, log.Provider(p.ID()))

	if c.AccessKey == "" || c.APISecret == "" {
		return newError(p.ID(), InvalidConfig, "access_key and api_secret are required", nil)
	}

	api, err := p.dial(ctx, c)
	if err != nil {
		log.S(ctx).Errorw("failed load aws config", zap.Error(err))
		return newError(p.ID(), InvalidConfig, "load config", err)
	}

	p.api = api
	if err := p.TestConnection(ctx); err != nil {
		log.S(ctx).Warnw("credential check failed", zap.Error(err))
		p.api = nil
		return err
	}
	return nil
}

func (p *route53Provider) TestConnection(ctx context.Context) error {
	if p.api == nil {
		return newError(p.ID(), InvalidConfig, "", ErrNotInitialized)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := p.api.ListHostedZones(ctx, &route53.ListHostedZonesInput{MaxItems: aws.Int32(1)})
	return p.classify(err, "list hosted zones")
}

func (p *route53Provider) classify(err error, detail string) error {
	if err == nil {
		return nil
	}

	kind := Unknown
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &apiErr):
		switch code := apiErr.ErrorCode(); {
		case code == "InvalidClientTokenId", code == "SignatureDoesNotMatch", code == "AccessDenied",
			code == "AccessDeniedException", code == "UnrecognizedClientException", code == "ExpiredToken":
			kind = AuthenticationFailed
		case strings.HasPrefix(code, "Throttling"), code == "PriorRequestNotComplete":
			kind = RateLimitExceeded
		case code == "NoSuchHostedZone":
			kind = DomainNotFound
		default:
			kind = APIError
		}
	case isNetworkError(err):
		kind = NetworkError
	}

	return newError(p.ID(), kind, detail, err)
}

func (p *route53Provider) zone(ctx context.Context, domain string) (string, error) {
	if p.api == nil {
		return "", newError(p.ID(), InvalidConfig, "", ErrNotInitialized)
	}
	if id, ok := p.zones[domain]; ok {
		return id, nil
	}

	out, err := p.api.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(domain),
		MaxItems: aws.Int32(1),
	})
	if err != nil {
		return "", p.classify(err, "lookup zone "+domain)
	}

	for _, z := range out.HostedZones {
		if strings.EqualFold(strings.TrimSuffix(aws.ToString(z.Name), "."), domain) {
			id := strings.TrimPrefix(aws.ToString(z.Id), "/hostedzone/")
			p.zones[domain] = id
			return id, nil
		}
	}
	return "", newError(p.ID(), DomainNotFound, domain, nil)
}

func (p *route53Provider) toRecords(set r53types.ResourceRecordSet, domain string) []Record {
	name := RelativeName(unescapeRoute53(aws.ToString(set.Name)), domain)
	ttl := int(aws.ToInt64(set.TTL))

	var records []Record
	for _, rr := range set.ResourceRecords {
		records = append(records, Record{
			ID:      route53RecordID(name, string(set.Type)),
			Name:    name,
			Type:    string(set.Type),
			Content: aws.ToString(rr.Value),
			TTL:     ttl,
		})
	}
	return records
}

func (p *route53Provider) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	ctx = log.SWith(ctx, log.Provider(p.ID()), "zone", domain)

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	zoneID, err := p.zone(ctx, domain)
	if err != nil {
		return nil, err
	}

	var records []Record
	input := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(zoneID)}
	for {
		out, err := p.api.ListResourceRecordSets(ctx, input)
		if err != nil {
			log.S(ctx).Warnw("failed list records", zap.Error(err))
			return nil, p.classify(err, "list records")
		}

		for _, set := range out.ResourceRecordSets {
			records = append(records, p.toRecords(set, domain)...)
		}

		if !out.IsTruncated {
			break
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}

	log.S(ctx).Debugw("listed records", "count", len(records))
	return records, nil
}

func (p *route53Provider) GetRecord(ctx context.Context, domain, name, recordType string) (*Record, error) {
	return FindRecord(ctx, p, domain, name, recordType)
}

func (p *route53Provider) UpdateRecord(ctx context.Context, domain, recordID, content string) (UpdateResult, error) {
	ctx = log.SWith(ctx, log.Provider(p.ID()), "zone", domain, "record_id", recordID)

	name, recordType, ok := parseRoute53RecordID(recordID)
	if !ok {
		return UpdateResult{}, newError(p.ID(), RecordNotFound, "malformed record id "+recordID, nil)
	}

	current, err := FindRecord(ctx, p, domain, name, recordType)
	if err != nil {
		return UpdateResult{}, err
	}
	if current == nil {
		return UpdateResult{}, newError(p.ID(), RecordNotFound, recordID, nil)
	}
	if current.Content == content {
		return unchanged(recordID, content), nil
	}

	if err := p.upsert(ctx, domain, name, recordType, content, current.TTL); err != nil {
		return UpdateResult{}, err
	}

	log.S(ctx).Infow("record updated", "old", current.Content, "new", content)
	return UpdateResult{
		Success:    true,
		RecordID:   recordID,
		OldContent: current.Content,
		NewContent: content,
		Message:    "record updated",
	}, nil
}

func (p *route53Provider) CreateRecord(ctx context.Context, domain, name, recordType, content string) (Record, error) {
	ctx = log.SWith(ctx, log.Provider(p.ID()), "zone", domain)

	name = normalizeLabel(name)
	if err := p.upsert(ctx, domain, name, recordType, content, route53DefaultTTL); err != nil {
		return Record{}, err
	}

	log.S(ctx).Infow("record created", "name", name, "ns_type", recordType)
	return Record{
		ID:      route53RecordID(name, recordType),
		Name:    name,
		Type:    recordType,
		Content: content,
		TTL:     route53DefaultTTL,
	}, nil
}

func (p *route53Provider) DeleteRecord(ctx context.Context, domain, recordID string) error {
	ctx = log.SWith(ctx, log.Provider(p.ID()), "zone", domain, "record_id", recordID)

	name, recordType, ok := parseRoute53RecordID(recordID)
	if !ok {
		return newError(p.ID(), RecordNotFound, "malformed record id "+recordID, nil)
	}

	current, err := FindRecord(ctx, p, domain, name, recordType)
	if err != nil {
		return err
	}
	if current == nil {
		return newError(p.ID(), RecordNotFound, recordID, nil)
	}

	return p.change(ctx, domain, r53types.ChangeActionDelete, name, recordType, current.Content, current.TTL)
}

func (p *route53Provider) upsert(ctx context.Context, domain, name, recordType, content string, ttl int) error {
	if ttl <= 0 {
		ttl = route53DefaultTTL
	}
	return p.change(ctx, domain, r53types.ChangeActionUpsert, name, recordType, content, ttl)
}

func (p *route53Provider) change(ctx context.Context, domain string, action r53types.ChangeAction, name, recordType, content string, ttl int) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	zoneID, err := p.zone(ctx, domain)
	if err != nil {
		return err
	}

	_, err = p.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: aws.String("ddnsd"),
			Changes: []r53types.Change{{
				Action: action,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name:            aws.String(AbsoluteName(name, domain) + "."),
					Type:            r53types.RRType(recordType),
					TTL:             aws.Int64(int64(ttl)),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(content)}},
				},
			}},
		},
	})
	if err != nil {
		log.S(ctx).Warnw("failed change record set", "action", action, zap.Error(err))
		return p.classify(err, "change record set")
	}
	return nil
}

func route53RecordID(name, recordType string) string {
	return name + "|" + recordType
}

func parseRoute53RecordID(id string) (name, recordType string, ok bool) {
	name, recordType, ok = strings.Cut(id, "|")
	return name, recordType, ok && name != "" && recordType != ""
}

// unescapeRoute53 decodes the octal escape Route 53 uses for '*'.
func unescapeRoute53(name string) string {
	return strings.ReplaceAll(name, `\052`, "*")
}
