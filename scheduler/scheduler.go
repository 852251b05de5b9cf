package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"ddnsd/common"
	"ddnsd/ddns"
	"ddnsd/detector"
	"ddnsd/log"
	"ddnsd/metrics"
	"ddnsd/store"

	"go.uber.org/zap"
)

var ErrInvalidInterval = errors.New("update interval must be positive")

type Store interface {
	GetDomains(ctx context.Context) ([]store.Domain, error)
	GetDomain(ctx context.Context, id string) (store.Domain, error)
	UpdateDomainIP(ctx context.Context, id, ip string) error
	AddUpdateHistory(ctx context.Context, entry store.HistoryEntry) (int64, error)
}

type Vault interface {
	Resolve(ctx context.Context, provider, domainID string) (ddns.Credentials, error)
}

type Detector interface {
	Detect(ctx context.Context, family common.Family) (detector.Snapshot, error)
	Refresh(ctx context.Context, family common.Family) (detector.Snapshot, error)
}

type RecordUpdater interface {
	Update(ctx context.Context, d store.Domain, ip string) (ddns.UpdateResult, error)
}

type Status struct {
	Running     bool `json:"running"`
	ActiveTasks int  `json:"active_tasks"`
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// Scheduler runs one worker per enabled domain.
type Scheduler struct {
	store    Store
	detector Detector
	updater  RecordUpdater
	now      func() time.Time
	unit     time.Duration

	mu      sync.RWMutex
	running bool
	workers map[string]*worker
}

func New(s Store, d Detector, u RecordUpdater) *Scheduler {
	return &Scheduler{
		store:    s,
		detector: d,
		updater:  u,
		now:      time.Now,
		unit:     time.Second,
		workers:  map[string]*worker{},
	}
}

func family(d store.Domain) common.Family {
	if d.RecordType == "AAAA" {
		return common.IPv6
	}
	return common.IPv4
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{Running: s.running, ActiveTasks: len(s.workers)}
}

func (s *Scheduler) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start spawns a worker for every enabled domain. Calling it while running
// does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx = log.SWith(context.WithoutCancel(ctx), log.Stage("scheduler"))

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.S(ctx).Debugw("already running")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	domains, err := s.store.GetDomains(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		log.S(ctx).Errorw("failed loading domains", zap.Error(err))
		return fmt.Errorf("load domains: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	for _, d := range domains {
		if !d.Enabled {
			continue
		}
		if d.UpdateInterval <= 0 {
			log.S(ctx).Errorw("skip domain", log.Domain(d.ID), zap.Error(ErrInvalidInterval))
			continue
		}
		s.spawn(ctx, d)
	}
	log.S(ctx).Infow("scheduler started", "workers", len(s.workers), "domains", len(domains))
	return nil
}

// Stop cancels every worker and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	workers := s.workers
	s.workers = map[string]*worker{}
	metrics.ActiveWorkers.Set(0)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		<-w.done
	}
}

func (s *Scheduler) Reload(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// AddDomainSchedule starts a worker for d, replacing any worker already
// running for the same id. Disabled domains and a stopped scheduler are
// ignored.
func (s *Scheduler) AddDomainSchedule(ctx context.Context, d store.Domain) error {
	if d.UpdateInterval <= 0 {
		return fmt.Errorf("domain %q: %w", d.ID, ErrInvalidInterval)
	}
	if !d.Enabled {
		return nil
	}

	ctx = log.SWith(context.WithoutCancel(ctx), log.Stage("scheduler"))

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	old := s.workers[d.ID]
	s.spawn(ctx, d)
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
	return nil
}

func (s *Scheduler) RemoveDomainSchedule(id string) {
	s.mu.Lock()
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
		metrics.ActiveWorkers.Set(float64(len(s.workers)))
	}
	s.mu.Unlock()

	if ok {
		w.stop()
	}
}

// spawn must be called with s.mu held.
func (s *Scheduler) spawn(ctx context.Context, d store.Domain) {
	ctx, cancel := context.WithCancel(log.With(ctx, log.Domain(d.ID)))
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.workers[d.ID] = w
	metrics.ActiveWorkers.Set(float64(len(s.workers)))

	go s.run(ctx, d.ID, time.Duration(d.UpdateInterval)*s.unit, w)
}

func (s *Scheduler) deregister(id string, w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers[id] == w {
		delete(s.workers, id)
		metrics.ActiveWorkers.Set(float64(len(s.workers)))
	}
}

func (s *Scheduler) run(ctx context.Context, id string, interval time.Duration, w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.S(ctx).Debugw("worker started", "interval", interval)
	for first := true; ; first = false {
		if !s.isRunning() {
			return
		}

		if !first {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}

		if exit := s.tick(ctx, id); exit {
			s.deregister(id, w)
			return
		}
	}
}

// tick reports whether the worker should exit.
func (s *Scheduler) tick(ctx context.Context, id string) bool {
	ctx = log.SWith(ctx, log.Stage("tick"))

	d, err := s.store.GetDomain(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.S(ctx).Warnw("domain removed, worker exits")
		return true
	}
	if err != nil {
		log.S(ctx).Errorw("failed fetching domain", zap.Error(err))
		return false
	}

	if !d.Enabled {
		log.S(ctx).Debugw("domain disabled, skip tick")
		return false
	}

	snap, err := s.detector.Detect(ctx, family(d))
	if err != nil {
		log.S(ctx).Warnw("detection failed", zap.Error(err))
		return false
	}
	ip := snap.Get(family(d))
	if !ip.IsValid() {
		log.S(ctx).Warnw("no address detected")
		return false
	}

	if ip.String() == d.CurrentIP {
		log.S(ctx).Debugw("IP didn't change, skip update", log.IP(ip), "method", snap.Method)
		return false
	}

	// Failures are recorded in history and retried next tick.
	_, _ = s.apply(ctx, d, ip)
	return false
}

func (s *Scheduler) apply(ctx context.Context, d store.Domain, ip netip.Addr) (ddns.UpdateResult, error) {
	newIP := ip.String()
	entry := store.HistoryEntry{DomainID: d.ID, NewIP: newIP, Timestamp: s.now()}

	result, err := s.updater.Update(ctx, d, newIP)
	if err != nil && ctx.Err() != nil {
		log.S(ctx).Infow("update aborted", log.IP(ip), zap.Error(err))
		return result, err
	}
	if err != nil {
		entry.Status = store.StatusFailed
		entry.Error = err.Error()
		metrics.IncrementUpdate(d.Provider, entry.Status)
		if _, herr := s.store.AddUpdateHistory(ctx, entry); herr != nil {
			log.S(ctx).Errorw("failed appending history", zap.Error(herr))
		}
		log.S(ctx).Errorw("update failed", log.IP(ip), zap.Error(err))
		return result, err
	}

	if err := s.store.UpdateDomainIP(ctx, d.ID, newIP); err != nil {
		log.S(ctx).Errorw("failed persisting ip", log.IP(ip), zap.Error(err))
		return result, fmt.Errorf("persist ip: %w", err)
	}

	entry.Status = store.StatusSuccess
	entry.OldIP = d.CurrentIP
	metrics.IncrementUpdate(d.Provider, entry.Status)
	if _, err := s.store.AddUpdateHistory(ctx, entry); err != nil {
		log.S(ctx).Errorw("failed appending history", zap.Error(err))
	}

	log.S(ctx).Infow("domain updated", log.IP(ip), "old_ip", d.CurrentIP, "fqdn", d.FQDN())
	return result, nil
}

// ForceUpdate runs a fresh detection and pushes the result to the provider
// even when it matches the stored address. It works whether or not the
// scheduler is running.
func (s *Scheduler) ForceUpdate(ctx context.Context, id string) (string, error) {
	ctx = log.SWith(ctx, log.Stage("force"), log.Domain(id))

	d, err := s.store.GetDomain(ctx, id)
	if err != nil {
		return "", err
	}

	snap, err := s.detector.Refresh(ctx, family(d))
	if err != nil {
		return "", fmt.Errorf("detect: %w", err)
	}
	ip := snap.Get(family(d))
	if !ip.IsValid() {
		return "", fmt.Errorf("detect: no %s address", family(d))
	}

	result, err := s.apply(ctx, d, ip)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("%s -> %s", d.FQDN(), ip)
	if result.Message != "" {
		msg += ": " + result.Message
	}
	return msg, nil
}
