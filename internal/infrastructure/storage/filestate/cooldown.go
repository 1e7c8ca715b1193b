package filestate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ltpbot/internal/application/port"
)

// CooldownStore one marker file per source holding the unix time the source
// failed. A marker for the primary source keeps its historical name.
type CooldownStore struct {
	dir      string
	names    map[string]string
	duration time.Duration

	mu sync.Mutex
}

// NewCooldownStore markers live in dir; names maps a source to a file name,
// other sources use "<source>.cooldown".
func NewCooldownStore(dir string, duration time.Duration, names map[string]string) *CooldownStore {
	return &CooldownStore{dir: dir, names: names, duration: duration}
}

func (s *CooldownStore) file(source string) string {
	if name, ok := s.names[source]; ok && name != "" {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(s.dir, name)
	}
	return filepath.Join(s.dir, source+".cooldown")
}

func (s *CooldownStore) Until(ctx context.Context, source string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.file(source))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		// unreadable marker: no cooldown
		return time.Time{}, false, nil
	}
	failedAt := time.Unix(0, int64(ts*float64(time.Second)))
	return failedAt.Add(s.duration), true, nil
}

// Set records the failure time, until minus the cooldown duration.
func (s *CooldownStore) Set(ctx context.Context, source string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.file(source)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	failedAt := until.Add(-s.duration)
	body := strconv.FormatInt(failedAt.Unix(), 10)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write cooldown marker: %w", err)
	}
	return os.Rename(tmp, path)
}

var _ port.CooldownStore = (*CooldownStore)(nil)
