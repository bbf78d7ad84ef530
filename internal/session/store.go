package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/utils"
)

// Store holds the sessions document (sessions.json) in memory.
// It is not safe for concurrent use; the policy engine serializes access.
type Store struct {
	path     string
	sessions map[string]*Session
	stamp    fileStamp
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

// LoadStore reads sessions.json. A missing or corrupt document degrades to
// an empty store with a warning.
func LoadStore(path string) *Store {
	s := &Store{path: path, sessions: map[string]*Session{}}
	s.load()
	return s
}

func (s *Store) load() {
	s.stamp = statStamp(s.path)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("sessions: read failed, starting empty")
		}
		s.sessions = map[string]*Session{}
		return
	}

	var doc map[string]*Session
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("sessions: corrupt document, starting empty")
		s.sessions = map[string]*Session{}
		return
	}

	sessions := make(map[string]*Session, len(doc))
	for id, sess := range doc {
		if sess == nil {
			continue
		}
		if sess.ID == "" {
			sess.ID = id
		}
		sessions[id] = sess
	}
	s.sessions = sessions
}

// Refresh reloads the document if another process rewrote it since the
// last read or write. Returns true when a reload happened.
func (s *Store) Refresh() bool {
	if statStamp(s.path) == s.stamp {
		return false
	}
	s.load()
	return true
}

// Save atomically rewrites sessions.json.
func (s *Store) Save() error {
	if err := utils.WriteJSONAtomic(s.path, s.sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	s.stamp = statStamp(s.path)
	return nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the live session for id.
func (s *Store) Get(id string) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Put inserts or replaces a session.
func (s *Store) Put(sess *Session) {
	s.sessions[sess.ID] = sess
}

// Delete removes a session. Returns false if it did not exist.
func (s *Store) Delete(id string) bool {
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of sessions.
func (s *Store) Len() int { return len(s.sessions) }

// List returns the live sessions ordered by creation time, then id.
func (s *Store) List() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created.Time) {
			return out[i].Created.Before(out[j].Created.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
