package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const historyFileLayout = "20060102-150405.000000000"

// FileStorage implements Storage using the filesystem
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{
		baseDir: baseDir,
	}
}

// DefaultStorageDir returns the default storage directory
func DefaultStorageDir() string {
	if testDir := os.Getenv("KEYROTATE_HISTORY_DIR"); testDir != "" {
		return testDir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "keyrotate", "history")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "keyrotate", "history")
	}

	return filepath.Join(os.TempDir(), "keyrotate", "history")
}

// SaveHistory saves a history entry
func (fs *FileStorage) SaveHistory(entry *HistoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	historyDir := filepath.Join(fs.baseDir, sanitizeFilename(entry.Identity))
	if err := os.MkdirAll(historyDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}

	filename := filepath.Join(historyDir, entry.Timestamp.UTC().Format(historyFileLayout)+".json")
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}

	return nil
}

// GetHistory retrieves history for an identity, newest first
func (fs *FileStorage) GetHistory(identity string, limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	historyDir := filepath.Join(fs.baseDir, sanitizeFilename(identity))
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return []HistoryEntry{}, nil
	}

	files, err := os.ReadDir(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	// file names sort chronologically
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})

	entries := []HistoryEntry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(historyDir, file.Name()))
		if err != nil {
			continue
		}

		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}

		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

// GetLatest returns the newest entry for an identity
func (fs *FileStorage) GetLatest(identity string) (*HistoryEntry, error) {
	entries, err := fs.GetHistory(identity, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoHistory, identity)
	}
	return &entries[0], nil
}

// CleanupOldEntries removes history entries older than the specified duration
func (fs *FileStorage) CleanupOldEntries(olderThan time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoffTime := time.Now().Add(-olderThan)

	if _, err := os.Stat(fs.baseDir); os.IsNotExist(err) {
		return nil
	}

	var failed []string
	err := filepath.WalkDir(fs.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		stamp := strings.TrimSuffix(filepath.Base(path), ".json")
		timestamp, err := time.Parse(historyFileLayout, stamp)
		if err != nil || !timestamp.Before(cutoffTime) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			failed = append(failed, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to remove %d history files: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
