package ledger

import "sync"

// SessionStats summarizes cache use for one run.
type SessionStats struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Files   int `json:"files"`
	Folders int `json:"folders"`
}

// Session memoizes observations for the lifetime of one ingestion run so
// that each path is stat'ed (and hashed) at most once. It is owned by the
// run and dropped when the run ends; it is never shared across runs.
type Session struct {
	mu      sync.Mutex
	files   map[string]Observation
	folders map[string]Observation
	hits    int
	misses  int
}

// NewSession creates an empty session cache.
func NewSession() *Session {
	return &Session{
		files:   make(map[string]Observation),
		folders: make(map[string]Observation),
	}
}

// GetFile returns the cached observation for a file path.
func (s *Session) GetFile(path string) (Observation, bool) {
	return s.get(false, path)
}

// PutFile caches a file observation.
func (s *Session) PutFile(obs Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[obs.Path] = obs
}

// GetFolder returns the cached observation for a directory path.
func (s *Session) GetFolder(path string) (Observation, bool) {
	return s.get(true, path)
}

// PutFolder caches a directory observation.
func (s *Session) PutFolder(obs Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[obs.Path] = obs
}

// ResetFiles drops all cached file observations.
func (s *Session) ResetFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]Observation)
}

// ResetFolders drops all cached directory observations.
func (s *Session) ResetFolders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = make(map[string]Observation)
}

// Reset drops everything, including hit/miss counters.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]Observation)
	s.folders = make(map[string]Observation)
	s.hits, s.misses = 0, 0
}

// Stats returns the current counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Hits:    s.hits,
		Misses:  s.misses,
		Files:   len(s.files),
		Folders: len(s.folders),
	}
}

func (s *Session) get(dir bool, path string) (Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.files
	if dir {
		m = s.folders
	}
	obs, ok := m[path]
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	return obs, ok
}
