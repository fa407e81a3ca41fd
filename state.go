package go_lanpresence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

var ErrStateLocked = errors.New("state directory is locked by another process")

// AppState is the small amount of data that must survive restarts, most
// importantly the client key that identifies this instance to its peers.
type AppState struct {
	sync.Mutex

	path string
	lock *flock.Flock

	ClientKey   string `json:"client_key"`
	DisplayName string `json:"display_name,omitempty"`
}

// Read locks stateDir and loads the state file from it. A missing file is not
// an error, the state is simply empty. The lock is held until Close is called.
func (s *AppState) Read(log Logger, stateDir string) error {
	log = LoggerOrNull(log)

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("failed creating state directory: %w", err)
	}

	s.lock = flock.New(filepath.Join(stateDir, "lockfile"))
	if locked, err := s.lock.TryLock(); err != nil {
		return fmt.Errorf("failed locking state directory: %w", err)
	} else if !locked {
		return ErrStateLocked
	}

	s.path = filepath.Join(stateDir, "state.json")

	if content, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(content, &s); err != nil {
			return fmt.Errorf("failed unmarshalling state file: %w", err)
		}
		log.Debugf("app state loaded")
	} else if errors.Is(err, os.ErrNotExist) {
		log.Debugf("no app state found")
	} else {
		return fmt.Errorf("failed reading state file: %w", err)
	}

	return nil
}

// EnsureClientKey returns the persisted client key, generating and storing a
// new one if none exists yet.
func (s *AppState) EnsureClientKey() (string, error) {
	s.Lock()
	key := s.ClientKey
	if len(key) == 0 {
		key = NewClientKey()
		s.ClientKey = key
	}
	s.Unlock()

	if err := s.Write(); err != nil {
		return "", err
	}

	return key, nil
}

func (s *AppState) Write() error {
	s.Lock()
	defer s.Unlock()

	if len(s.path) == 0 {
		return fmt.Errorf("app state was never read")
	}

	// Create a temporary file, and overwrite the old file.
	// This is a way to atomically replace files.
	// The file is created with mode 0o600 so we don't need to change the mode.
	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed creating temporary file for app state: %w", err)
	}

	if err := json.NewEncoder(tmpFile).Encode(&s); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("failed writing marshalled app state: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("failed closing temporary app state file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		return fmt.Errorf("failed replacing app state file: %w", err)
	}

	return nil
}

// Close releases the state directory lock.
func (s *AppState) Close() error {
	if s.lock == nil {
		return nil
	}

	return s.lock.Unlock()
}
