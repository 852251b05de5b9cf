package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"ddnsd/common"
	"ddnsd/ddns"
	"ddnsd/detector"
	"ddnsd/store"
)

type fakeStore struct {
	mu       sync.Mutex
	domains  map[string]store.Domain
	history  []store.HistoryEntry
	listErr  error
	getCalls int
	// updateFailures fails that many UpdateDomainIP calls.
	updateFailures int
}

func newFakeStore(domains ...store.Domain) *fakeStore {
	s := &fakeStore{domains: map[string]store.Domain{}}
	for _, d := range domains {
		s.domains[d.ID] = d
	}
	return s
}

func (s *fakeStore) GetDomains(context.Context) ([]store.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.Domain
	for _, d := range s.domains {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) GetDomain(_ context.Context, id string) (store.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	d, ok := s.domains[id]
	if !ok {
		return store.Domain{}, fmt.Errorf("%q: %w", id, store.ErrNotFound)
	}
	return d, nil
}

func (s *fakeStore) UpdateDomainIP(_ context.Context, id, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateFailures > 0 {
		s.updateFailures--
		return errors.New("disk full")
	}
	d, ok := s.domains[id]
	if !ok {
		return store.ErrNotFound
	}
	d.CurrentIP = ip
	s.domains[id] = d
	return nil
}

func (s *fakeStore) AddUpdateHistory(_ context.Context, e store.HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.history) + 1)
	s.history = append(s.history, e)
	return e.ID, nil
}

func (s *fakeStore) Domain(id string) store.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domains[id]
}

func (s *fakeStore) History() []store.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.HistoryEntry(nil), s.history...)
}

func (s *fakeStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *fakeStore) Set(d store.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[d.ID] = d
}

func (s *fakeStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, id)
}

type fakeDetector struct {
	mu      sync.Mutex
	ip      string
	detects int
	refresh int
}

func (d *fakeDetector) snapshot(method string) (detector.Snapshot, error) {
	if d.ip == "" {
		return detector.Snapshot{}, detector.ErrDetectionExhausted
	}
	return detector.Snapshot{IPv4: netip.MustParseAddr(d.ip), Method: method}, nil
}

func (d *fakeDetector) Detect(context.Context, common.Family) (detector.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detects++
	return d.snapshot("http")
}

func (d *fakeDetector) Refresh(context.Context, common.Family) (detector.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh++
	return d.snapshot("http")
}

func (d *fakeDetector) Detects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detects
}

// fakeUpdater fails the first failures calls.
type fakeUpdater struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (u *fakeUpdater) Update(_ context.Context, d store.Domain, ip string) (ddns.UpdateResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, ip)
	if u.failures != 0 {
		u.failures--
		return ddns.UpdateResult{}, &ddns.Error{Provider: d.Provider, Kind: ddns.NetworkError, Err: errors.New("connection reset")}
	}
	return ddns.UpdateResult{Success: true, RecordID: "r1", OldContent: d.CurrentIP, NewContent: ip, Message: "record updated"}, nil
}

func (u *fakeUpdater) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

// blockingUpdater holds every update until its context ends.
type blockingUpdater struct {
	started chan struct{}
}

func (u *blockingUpdater) Update(ctx context.Context, _ store.Domain, _ string) (ddns.UpdateResult, error) {
	select {
	case u.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ddns.UpdateResult{}, ctx.Err()
}

type fakeVault struct {
	creds map[string]ddns.Credentials
}

func (v fakeVault) Resolve(_ context.Context, provider, _ string) (ddns.Credentials, error) {
	c, ok := v.creds[provider]
	if !ok {
		return ddns.Credentials{}, errors.New("no credentials configured")
	}
	return c, nil
}

type fakeProvider struct {
	initErr error
	records []ddns.Record
	calls   []string
}

func (p *fakeProvider) ID() string   { return "fake" }
func (p *fakeProvider) Name() string { return "Fake DNS" }

func (p *fakeProvider) Initialize(_ context.Context, c ddns.Credentials) error {
	p.calls = append(p.calls, "init:"+c.APIKey)
	return p.initErr
}

func (p *fakeProvider) ListRecords(context.Context, string) ([]ddns.Record, error) {
	return p.records, nil
}

func (p *fakeProvider) GetRecord(ctx context.Context, domain, name, recordType string) (*ddns.Record, error) {
	p.calls = append(p.calls, "get:"+name+"/"+recordType)
	return ddns.FindRecord(ctx, p, domain, name, recordType)
}

func (p *fakeProvider) UpdateRecord(_ context.Context, _, recordID, content string) (ddns.UpdateResult, error) {
	p.calls = append(p.calls, "update:"+recordID+"="+content)
	return ddns.UpdateResult{Success: true, RecordID: recordID, NewContent: content, Message: "record updated"}, nil
}

func (p *fakeProvider) CreateRecord(_ context.Context, _, name, recordType, content string) (ddns.Record, error) {
	p.calls = append(p.calls, "create:"+name+"/"+recordType+"="+content)
	return ddns.Record{ID: "new", Name: name, Type: recordType, Content: content}, nil
}

func (p *fakeProvider) DeleteRecord(context.Context, string, string) error {
	return nil
}

func (p *fakeProvider) TestConnection(context.Context) error { return nil }

func (p *fakeProvider) SupportedRecordTypes() []string { return ddns.DefaultRecordTypes }
