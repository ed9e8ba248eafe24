// Package cache implements the persisted device cache (§6.4): one
// JSON-encoded file per peripheral holding its discovered service tree,
// and a sibling set of bonding records. Both are plain files under a
// configurable directory, keyed by lowercase hex address — the
// one-file-per-key, os.ReadFile/os.WriteFile/json.Marshal idiom follows
// the teacher pack's own on-disk cache (andrewarrow-auraphone-blue's
// wire.DeviceCacheManager), generalized from per-device photo metadata to
// a per-peripheral GATT service tree.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/srg/bleproxy/internal/wireproto"
)

// DefaultExpiry is how long a cached service tree remains valid before a
// read treats it as absent (§6.4). Bonding records never expire.
const DefaultExpiry = 30 * 24 * time.Hour

const dirPerm = 0o755
const filePerm = 0o644

// ServiceEntry is the on-disk shape of one peripheral's cached service
// tree.
type ServiceEntry struct {
	Address   uint64              `json:"address"`
	Services  []wireproto.Service `json:"services"`
	CreatedAt time.Time           `json:"created_at"`
}

// BondEntry is the on-disk shape of one peripheral's bonding record.
// Store keeps BondData opaque — whatever bytes the adapter's pairing
// implementation produces (an encrypted LTK blob, a platform keychain
// reference, etc).
type BondEntry struct {
	Address   uint64    `json:"address"`
	BondData  []byte    `json:"bond_data"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists ServiceEntry/BondEntry records as one JSON file per
// peripheral under Dir, with bonding records kept in a never-expiring
// "bonds" subdirectory.
type Store struct {
	dir    string
	expiry time.Duration
}

// New returns a Store rooted at dir. expiry <= 0 defaults to
// DefaultExpiry. The directory (and its bonds subdirectory) is created
// lazily, on first write.
func New(dir string, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{dir: dir, expiry: expiry}
}

func (s *Store) servicePath(address uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%012x.json", address))
}

func (s *Store) bondPath(address uint64) string {
	return filepath.Join(s.dir, "bonds", fmt.Sprintf("%012x.json", address))
}

// LoadServices returns address's cached service tree, or ok == false if
// no entry exists or the entry has aged past the store's expiry.
func (s *Store) LoadServices(address uint64) (entry ServiceEntry, ok bool, err error) {
	data, err := os.ReadFile(s.servicePath(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ServiceEntry{}, false, nil
		}
		return ServiceEntry{}, false, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return ServiceEntry{}, false, err
	}
	if time.Since(entry.CreatedAt) > s.expiry {
		return ServiceEntry{}, false, nil
	}
	return entry, true, nil
}

// SaveServices writes address's freshly discovered service tree,
// overwriting whatever was cached before.
func (s *Store) SaveServices(address uint64, services []wireproto.Service) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("cache: create directory: %w", err)
	}
	entry := ServiceEntry{Address: address, Services: services, CreatedAt: time.Now()}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode service entry: %w", err)
	}
	return os.WriteFile(s.servicePath(address), data, filePerm)
}

// ClearServices removes address's cached service tree, implementing
// BleDeviceReqClearCache (§6.2). A missing file is not an error.
func (s *Store) ClearServices(address uint64) error {
	err := os.Remove(s.servicePath(address))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadBond returns address's bonding record, or ok == false if none
// exists. Bonding records never expire.
func (s *Store) LoadBond(address uint64) (entry BondEntry, ok bool, err error) {
	data, err := os.ReadFile(s.bondPath(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BondEntry{}, false, nil
		}
		return BondEntry{}, false, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return BondEntry{}, false, err
	}
	return entry, true, nil
}

// SaveBond persists address's bonding record, overwriting any previous one.
func (s *Store) SaveBond(address uint64, bondData []byte) error {
	bondsDir := filepath.Join(s.dir, "bonds")
	if err := os.MkdirAll(bondsDir, dirPerm); err != nil {
		return fmt.Errorf("cache: create bonds directory: %w", err)
	}
	entry := BondEntry{Address: address, BondData: bondData, CreatedAt: time.Now()}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode bond entry: %w", err)
	}
	return os.WriteFile(s.bondPath(address), data, filePerm)
}

// ClearBond removes address's bonding record, implementing
// BleDeviceReqUnpair (§6.2). A missing file is not an error.
func (s *Store) ClearBond(address uint64) error {
	err := os.Remove(s.bondPath(address))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
