package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"TrancheBank/internal/model"
)

// FileStore keeps the bank state in a single JSON file.
type FileStore struct {
	filePath string
}

func NewFileStore(filePath string) *FileStore {
	return &FileStore{filePath: filePath}
}

// Load reads the bank state. Returns nil if the file doesn't exist.
func (f *FileStore) Load() (*model.BankState, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state model.BankState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	state.Normalize()
	return &state, nil
}

// Save writes the state to a temp file and renames it over the old one,
// so a crash mid-write never leaves a truncated state behind.
func (f *FileStore) Save(state *model.BankState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.filePath)
}

func (f *FileStore) Close() error { return nil }
