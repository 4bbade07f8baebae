// Package credstore keeps remembered platform passwords
package credstore

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when no password is stored for a username
var ErrNotFound = errors.New("credential not found")

// Store saves passwords per username
type Store interface {
	Add(username, password string) error
	Delete(username string) error
	Get(username string) (string, error)
}

// Memory is a process-local Store
type Memory struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{creds: make(map[string]string)}
}

func (m *Memory) Add(username, password string) error {
	if username == "" {
		return errors.New("credstore: empty username")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[username] = password
	return nil
}

func (m *Memory) Delete(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, username)
	return nil
}

func (m *Memory) Get(username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pw, ok := m.creds[username]
	if !ok {
		return "", ErrNotFound
	}
	return pw, nil
}
