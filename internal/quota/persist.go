package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"zord/internal/common/fsutil"
)

type persistRecord struct {
	MessageCount int64 `json:"message_count"`
	TokenCount   int64 `json:"token_count"`
	ResetAtUnix  int64 `json:"reset_at_unix"`
}

// SaveFile writes every live window to path as JSON. Pending admissions are
// not persisted; they belong to requests of the current process.
func (s *MemoryStore) SaveFile(path string) error {
	if path == "" {
		return nil
	}
	snap := s.snapshot()
	data := make(map[string]persistRecord, len(snap))
	for id, rec := range snap {
		data[id] = persistRecord{
			MessageCount: rec.messages,
			TokenCount:   rec.tokens,
			ResetAtUnix:  rec.resetAt.Unix(),
		}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("quota: encode snapshot: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("quota: write snapshot: %w", err)
	}
	return nil
}

// LoadFile restores windows saved by SaveFile. A missing file is not an
// error. Windows that already reset are skipped. Returns the number of
// restored clients.
func (s *MemoryStore) LoadFile(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("quota: open snapshot: %w", err)
	}
	defer f.Close()
	var data map[string]persistRecord
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return 0, fmt.Errorf("quota: decode snapshot: %w", err)
	}
	now := s.now()
	n := 0
	for id, pr := range data {
		if id == "" {
			continue
		}
		resetAt := time.Unix(pr.ResetAtUnix, 0)
		if !now.Before(resetAt) {
			continue
		}
		s.restore(id, &record{messages: pr.MessageCount, tokens: pr.TokenCount, resetAt: resetAt})
		n++
	}
	return n, nil
}
