// internal/mockserver/store.go
package mockserver

import (
	"slices"
	"sync"

	"github.com/jason-s-yu/sionline/internal/models"
)

// GameStore keeps the games and the connected users of the mock server.
type GameStore struct {
	mu     sync.Mutex
	games  map[int]*models.GameRecord
	nextID int
	users  map[string]int // name -> open push connections
}

// NewGameStore initializes and returns an empty GameStore.
func NewGameStore() *GameStore {
	return &GameStore{
		games:  make(map[int]*models.GameRecord),
		nextID: 1,
		users:  make(map[string]int),
	}
}

// Add stores g under a fresh id and returns the stored copy.
func (s *GameStore) Add(g models.GameRecord) models.GameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.nextID
	s.nextID++
	s.games[g.ID] = &g
	return g
}

// Update applies fn to the game with the given id.
func (s *GameStore) Update(id int, fn func(*models.GameRecord)) (models.GameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return models.GameRecord{}, false
	}
	fn(g)
	return *g, true
}

// Delete removes the game with the given id.
func (s *GameStore) Delete(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return false
	}
	delete(s.games, id)
	return true
}

// Get retrieves a game by id.
func (s *GameStore) Get(id int) (models.GameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return models.GameRecord{}, false
	}
	return *g, true
}

// NameTaken reports whether a game with the given name exists.
func (s *GameStore) NameTaken(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Page returns up to size games with id >= from in ascending id order.
func (s *GameStore) Page(from, size int) models.GamesPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.games))
	for id := range s.games {
		if id >= from {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	page := models.GamesPage{IsLastPage: len(ids) <= size}
	if len(ids) > size {
		ids = ids[:size]
	}
	for _, id := range ids {
		page.Games = append(page.Games, *s.games[id])
	}
	return page
}

// Len returns the number of games.
func (s *GameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

// Connect registers a push connection of name and reports whether it is the
// user's first.
func (s *GameStore) Connect(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[name]++
	return s.users[name] == 1
}

// Disconnect drops a push connection of name and reports whether it was the
// user's last.
func (s *GameStore) Disconnect(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[name] == 0 {
		return false
	}
	s.users[name]--
	if s.users[name] == 0 {
		delete(s.users, name)
		return true
	}
	return false
}

// Users returns the connected users.
func (s *GameStore) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for name := range s.users {
		out = append(out, name)
	}
	return out
}
