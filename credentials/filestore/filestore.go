package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/space-symphony/credentials"
	"github.com/jrsteele09/space-symphony/token"
)

const (
	fileName      = "credentials.json"
	formatVersion = 1
)

var _ credentials.Store = (*Store)(nil)

// document is the on-disk layout. Record is nil only if a future writer
// chooses to clear the file without deleting it.
type document struct {
	Version int           `json:"version"`
	AppID   string        `json:"app_id"`
	Record  *token.Record `json:"record"`
}

// Store keeps each application's record in <dir>/<appID>/credentials.json.
// Writes go to a temp file in the same directory and are renamed into place.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file that holds appID's record.
func (s *Store) Path(appID string) string {
	return filepath.Join(s.dir, appID, fileName)
}

func (s *Store) Load(ctx context.Context, appID string) (*token.Record, error) {
	if err := credentials.ValidateAppID(appID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(appID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, credentials.StoreError("read credentials", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, credentials.StoreError("decode credentials", err)
	}
	if doc.Record == nil {
		return nil, nil
	}
	rec := doc.Record.Clone()
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, appID string, record token.Record) error {
	if err := credentials.ValidateAppID(appID); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := record.Clone()
	data, err := json.MarshalIndent(document{Version: formatVersion, AppID: appID, Record: &rec}, "", "  ")
	if err != nil {
		return credentials.StoreError("encode credentials", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeAtomic(s.Path(appID), data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return credentials.StoreError("create credentials dir", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".*.tmp")
	if err != nil {
		return credentials.StoreError("create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return credentials.StoreError("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return credentials.StoreError("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return credentials.StoreError("close temp file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return credentials.StoreError("chmod temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return credentials.StoreError("replace credentials", err)
	}
	committed = true
	return nil
}
