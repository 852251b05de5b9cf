package ddns

import (
	"context"
	"strings"
)

var DefaultRecordTypes = []string{"A", "AAAA", "CNAME"}

// Interface is the contract every DNS vendor adapter implements. Domain
// arguments are zone apexes (example.com); record names are labels relative
// to the zone, with "@" for the apex.
type Interface interface {
	ID() string
	Name() string

	// Initialize validates credentials and checks them against the vendor before returning.
	Initialize(ctx context.Context, credentials Credentials) error

	ListRecords(ctx context.Context, domain string) ([]Record, error)
	// GetRecord returns nil without error if no record matches.
	GetRecord(ctx context.Context, domain, name, recordType string) (*Record, error)
	UpdateRecord(ctx context.Context, domain, recordID, content string) (UpdateResult, error)
	CreateRecord(ctx context.Context, domain, name, recordType, content string) (Record, error)
	DeleteRecord(ctx context.Context, domain, recordID string) error

	TestConnection(ctx context.Context) error
	SupportedRecordTypes() []string
}

type Record struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Content  string  `json:"content"`
	TTL      int     `json:"ttl"`
	Proxied  *bool   `json:"proxied,omitempty"`
	Priority *uint16 `json:"priority,omitempty"`
}

type UpdateResult struct {
	Success    bool   `json:"success"`
	RecordID   string `json:"record_id"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
	Message    string `json:"message"`
}

type Credentials struct {
	Provider  string
	APIKey    string
	APISecret string
	AccessKey string
	Region    string
	Extra     map[string]string
}

// Get returns the first non-empty value among the named Extra keys.
func (c Credentials) Get(keys ...string) string {
	for _, k := range keys {
		if v := c.Extra[k]; v != "" {
			return v
		}
	}
	return ""
}

type recordLister interface {
	ListRecords(ctx context.Context, domain string) ([]Record, error)
}

// FindRecord scans the listing of domain and returns the first record with
// the given relative name and type, in the order the vendor listed them.
func FindRecord(ctx context.Context, p recordLister, domain, name, recordType string) (*Record, error) {
	records, err := p.ListRecords(ctx, domain)
	if err != nil {
		return nil, err
	}

	name = normalizeLabel(name)
	for i := range records {
		r := records[i]
		if strings.EqualFold(normalizeLabel(r.Name), name) && strings.EqualFold(r.Type, recordType) {
			return &r, nil
		}
	}

	return nil, nil
}

func normalizeLabel(name string) string {
	if name == "" {
		return "@"
	}
	return name
}

// RelativeName strips zone from a fully qualified record name.
func RelativeName(fqdn, zone string) string {
	fqdn = strings.TrimSuffix(fqdn, ".")
	zone = strings.TrimSuffix(zone, ".")

	if strings.EqualFold(fqdn, zone) {
		return "@"
	}
	if len(fqdn) > len(zone)+1 && strings.EqualFold(fqdn[len(fqdn)-len(zone):], zone) && fqdn[len(fqdn)-len(zone)-1] == '.' {
		return fqdn[:len(fqdn)-len(zone)-1]
	}
	return fqdn
}

// AbsoluteName joins a relative label with zone.
func AbsoluteName(name, zone string) string {
	zone = strings.TrimSuffix(zone, ".")
	if name == "" || name == "@" {
		return zone
	}
	return name + "." + zone
}

func unchanged(recordID, content string) UpdateResult {
	return UpdateResult{
		Success:    true,
		RecordID:   recordID,
		OldContent: content,
		NewContent: content,
		Message:    "record already up to date",
	}
}
