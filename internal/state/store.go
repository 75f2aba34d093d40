package state

import (
	"sort"
	"sync"

	"github.com/Ruskei/BetterHud/internal/update"
)

// Store holds the latest snapshot of every connected player. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	players map[string]*Snapshot
}

func NewStore() *Store {
	return &Store{players: make(map[string]*Snapshot)}
}

// Join adds a player, returning false if the id is already present.
func (s *Store) Join(id, name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.players[id]; ok {
		return existing.Clone(), false
	}
	snapshot := NewSnapshot(id, name)
	s.players[id] = &snapshot
	return snapshot.Clone(), true
}

// Leave removes a player.
func (s *Store) Leave(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.players[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Snapshots copies every player ordered by id.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.players))
	for _, snapshot := range s.players {
		out = append(out, snapshot.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update mutates one player in place.
func (s *Store) Update(id string, fn func(*Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.players[id]
	if !ok {
		return false
	}
	fn(snapshot)
	return true
}

// Apply folds a domain event into the addressed players and reports how
// many were touched.
func (s *Store) Apply(event update.DomainEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := 0
	for id, snapshot := range s.players {
		if !event.Targets(id) {
			continue
		}
		applyPayload(snapshot, event.Payload)
		touched++
	}
	return touched
}

func applyPayload(snapshot *Snapshot, payload update.Payload) {
	switch p := payload.(type) {
	case update.Damage:
		snapshot.Health = max(snapshot.Health-p.Amount, 0)
		snapshot.LastDamage = p.Amount
		snapshot.LastDamageCause = p.Cause
	case update.Heal:
		snapshot.Health = min(snapshot.Health+p.Amount, snapshot.MaxHealth)
	case update.Move:
		if p.World != "" {
			snapshot.World = p.World
		}
		snapshot.X, snapshot.Y, snapshot.Z = p.X, p.Y, p.Z
	case update.GamemodeChange:
		snapshot.Gamemode = p.Mode
	case update.Custom:
		if len(p.Values) == 0 {
			return
		}
		if snapshot.Attributes == nil {
			snapshot.Attributes = make(map[string]string, len(p.Values))
		}
		for k, v := range p.Values {
			snapshot.Attributes[k] = v
		}
	}
}
