package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/perchhq/perch/pkg/types"
)

// SessionSnapshot is the durable copy of a session document kept between app
// restarts, so a freshly launched client can serve local state (including the
// pending message queue) before the first server round trip.
type SessionSnapshot struct {
	// Session is the last known session value.
	Session *types.Session `json:"session"`
	// SavedAtMs is the wall-clock timestamp of the most recent write.
	SavedAtMs int64 `json:"savedAtMs,omitempty"`
}

// LoadSessionSnapshot reads the persisted snapshot for a session id.
//
// ok is false when no snapshot exists.
func LoadSessionSnapshot(perchHome string, sessionID string) (snap SessionSnapshot, ok bool, err error) {
	path, err := sessionSnapshotPath(perchHome, sessionID)
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionSnapshot{}, false, nil
		}
		return SessionSnapshot{}, false, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return SessionSnapshot{}, false, err
	}
	return snap, true, nil
}

// SaveSessionSnapshot writes a session snapshot to disk atomically.
func SaveSessionSnapshot(perchHome string, session *types.Session) error {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("missing session id")
	}
	path, err := sessionSnapshotPath(perchHome, session.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	snap := SessionSnapshot{
		Session:   session,
		SavedAtMs: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DeleteSessionSnapshot removes a persisted snapshot. Missing snapshots are
// not an error.
func DeleteSessionSnapshot(perchHome string, sessionID string) error {
	path, err := sessionSnapshotPath(perchHome, sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListSessionSnapshots returns the session ids with persisted snapshots.
func ListSessionSnapshots(perchHome string) ([]string, error) {
	root := filepath.Join(perchHome, "sessions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// sessionSnapshotPath returns the absolute path for a session snapshot.
func sessionSnapshotPath(perchHome string, sessionID string) (string, error) {
	if strings.TrimSpace(perchHome) == "" {
		return "", fmt.Errorf("missing perch home")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("missing session id")
	}
	// Session ids come from the server and must not escape the sessions dir.
	sessionID = strings.ReplaceAll(sessionID, string(os.PathSeparator), "_")
	return filepath.Join(perchHome, "sessions", sessionID, "session.json"), nil
}
