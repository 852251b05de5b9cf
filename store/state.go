package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"ddnsd/log"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type domainState struct {
	CurrentIP   string     `json:"current_ip,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

type state struct {
	Domains map[string]domainState `json:"domains"`
	History []HistoryEntry         `json:"history"`
	NextID  int64                  `json:"next_id"`
}

func (m *Memory) load() error {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var s state
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	// State of domains no longer configured is dropped.
	for id, ds := range s.Domains {
		if d, ok := m.domains[id]; ok {
			d.CurrentIP = ds.CurrentIP
			d.LastUpdated = ds.LastUpdated
		}
	}
	m.history = s.History
	m.nextID = s.NextID
	for _, e := range m.history {
		if e.ID >= m.nextID {
			m.nextID = e.ID + 1
		}
	}
	if m.nextID < 1 {
		m.nextID = 1
	}
	return nil
}

// persist must be called with m.mu held.
func (m *Memory) persist(ctx context.Context) error {
	if m.path == "" {
		return nil
	}

	s := state{
		Domains: make(map[string]domainState, len(m.domains)),
		History: m.history,
		NextID:  m.nextID,
	}
	for id, d := range m.domains {
		s.Domains[id] = domainState{CurrentIP: d.CurrentIP, LastUpdated: d.LastUpdated}
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomic(m.path, b); err != nil {
		log.S(ctx).Errorw("failed writing state file", "path", m.path, zap.Error(err))
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
