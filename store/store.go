package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ddnsd/config"
	"ddnsd/log"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("domain not found")

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Domain struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Subdomain      string     `json:"subdomain"`
	Provider       string     `json:"provider"`
	RecordType     string     `json:"record_type"`
	CurrentIP      string     `json:"current_ip,omitempty"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
	UpdateInterval int        `json:"update_interval"`
	Enabled        bool       `json:"enabled"`
}

func (d Domain) apex() bool {
	return d.Subdomain == "" || d.Subdomain == "@"
}

// FQDN is the fully qualified record name, without trailing dot.
func (d Domain) FQDN() string {
	if d.apex() {
		return d.Name
	}
	return d.Subdomain + "." + d.Name
}

// Label is the record name relative to the zone.
func (d Domain) Label() string {
	if d.apex() {
		return "@"
	}
	return d.Subdomain
}

func (d Domain) Interval() time.Duration {
	return time.Duration(d.UpdateInterval) * time.Second
}

type HistoryEntry struct {
	ID        int64     `json:"id"`
	DomainID  string    `json:"domain_id"`
	OldIP     string    `json:"old_ip,omitempty"`
	NewIP     string    `json:"new_ip"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func FromConfigDomain(c config.Domain) Domain {
	return Domain{
		ID:             c.ID,
		Name:           strings.TrimSuffix(c.Name, "."),
		Subdomain:      c.Subdomain,
		Provider:       strings.ToLower(c.Provider),
		RecordType:     strings.ToUpper(c.RecordType),
		UpdateInterval: c.UpdateInterval,
		Enabled:        c.IsEnabled(),
	}
}

// Memory keeps domains and their update history in memory, mirrored to an
// optional state file after every mutation.
type Memory struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	order   []string
	domains map[string]*Domain
	history []HistoryEntry
	nextID  int64
}

func NewMemory(domains ...Domain) *Memory {
	m := &Memory{
		now:     time.Now,
		domains: map[string]*Domain{},
		nextID:  1,
	}
	for _, d := range domains {
		m.put(d)
	}
	return m
}

// Open seeds a store with domains and restores the state saved at path.
// A missing state file is not an error.
func Open(ctx context.Context, path string, domains ...Domain) (*Memory, error) {
	m := NewMemory(domains...)
	m.path = path
	if path == "" {
		return m, nil
	}

	if err := m.load(); err != nil {
		log.S(ctx).Errorw("failed loading state file", "path", path, zap.Error(err))
		return nil, fmt.Errorf("load state %s: %w", path, err)
	}
	log.S(ctx).Infow("state restored", "path", path, "history", len(m.history))
	return m, nil
}

func FromConfig(ctx context.Context, c *config.Config) (*Memory, error) {
	domains := make([]Domain, 0, len(c.Domain))
	for _, d := range c.Domain {
		domains = append(domains, FromConfigDomain(d))
	}
	return Open(ctx, c.Service.StateFile, domains...)
}

func (m *Memory) put(d Domain) {
	if _, ok := m.domains[d.ID]; !ok {
		m.order = append(m.order, d.ID)
	}
	m.domains[d.ID] = &d
}

func notFound(id string) error {
	return fmt.Errorf("%q: %w", id, ErrNotFound)
}

func (m *Memory) GetDomains(_ context.Context) ([]Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Domain, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.domains[id])
	}
	return out, nil
}

func (m *Memory) GetDomain(_ context.Context, id string) (Domain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.domains[id]
	if !ok {
		return Domain{}, notFound(id)
	}
	return *d, nil
}

func (m *Memory) UpdateDomainIP(ctx context.Context, id, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.domains[id]
	if !ok {
		return notFound(id)
	}
	prevIP, prevUpdated := d.CurrentIP, d.LastUpdated
	now := m.now()
	d.CurrentIP = ip
	d.LastUpdated = &now

	if err := m.persist(ctx); err != nil {
		d.CurrentIP, d.LastUpdated = prevIP, prevUpdated
		return err
	}
	return nil
}

func (m *Memory) AddUpdateHistory(ctx context.Context, entry HistoryEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextID
	m.nextID++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	m.history = append(m.history, entry)

	return entry.ID, m.persist(ctx)
}

// History returns the entries of domainID in append order, at most limit of
// the newest when limit is positive.
func (m *Memory) History(_ context.Context, domainID string, limit int) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.domains[domainID]; !ok {
		return nil, notFound(domainID)
	}

	var out []HistoryEntry
	for _, e := range m.history {
		if e.DomainID == domainID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Sync replaces the managed domain set. Domains that survive keep their
// current IP and last update time; history is never dropped.
func (m *Memory) Sync(ctx context.Context, domains []Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.domains
	m.order = nil
	m.domains = map[string]*Domain{}
	for _, d := range domains {
		if prev, ok := old[d.ID]; ok {
			d.CurrentIP = prev.CurrentIP
			d.LastUpdated = prev.LastUpdated
		}
		m.put(d)
	}

	log.S(ctx).Infow("domains synced", "count", len(domains), "previous", len(old))
	return m.persist(ctx)
}
