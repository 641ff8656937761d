// Package vault owns the in-memory credential set of one account and persists
// it as a single encrypted, checksummed file replaced atomically on every change.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/krypto"
	"github.com/melvsalonga/securepass/store"
)

// State is the lifecycle stage of a Vault.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	// StateRecovered means the persisted file could not be read with the
	// active key. The vault is empty and the file is moved aside on the
	// first mutation.
	StateRecovered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateRecovered:
		return "recovered"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// DefaultHistoryLimit caps the password history of a record.
const DefaultHistoryLimit = 10

// Options configures a Vault.
type Options struct {
	// Path of the vault file.
	Path    string
	Backend store.Backend
	Logger  *zap.SugaredLogger
	// HistoryLimit bounds password history per record; 0 keeps everything.
	HistoryLimit int
	Now          func() time.Time
}

// Vault is the credential store of a single unlocked account.
// All mutations are serialized; each one ends with a full atomic save.
type Vault struct {
	mu   sync.RWMutex
	opts Options
	log  *zap.SugaredLogger

	state      State
	key        *krypto.SecretKey
	records    map[string]storedRecord
	categories []string
	meta       metadata
	quarantine bool
}

// New returns an uninitialized vault bound to opts.Path.
func New(opts Options) *Vault {
	if opts.Backend == nil {
		opts.Backend = store.NewFS()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Vault{
		opts:    opts,
		log:     log.With("vault", opts.Path),
		records: make(map[string]storedRecord),
	}
}

func (v *Vault) now() time.Time {
	return v.opts.Now().UTC()
}

// State reports the current lifecycle stage.
func (v *Vault) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Initialize activates key and loads the persisted container. A missing file
// produces a new empty vault on disk. A file that fails authentication or its
// checksum leaves the vault empty in StateRecovered and returns an error
// matching common.ErrDecryptionFailed or common.ErrVaultCorrupted; the file is
// not touched until the next mutation.
func (v *Vault) Initialize(key *krypto.SecretKey) error {
	if v.opts.Path == "" {
		return common.Invalid("path", "vault path is required")
	}
	active, err := key.Clone()
	if err != nil {
		return fmt.Errorf("activate vault key: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		v.key.Destroy()
	}
	v.key = active
	v.quarantine = false
	v.resetLocked()

	data, err := v.opts.Backend.Read(v.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		if err := v.persistLocked(); err != nil {
			v.closeLocked()
			return err
		}
		v.state = StateLoaded
		v.log.Infow("created empty vault")
		return nil
	}
	if err != nil {
		v.closeLocked()
		return fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}

	var c container
	err = v.key.Use(func(k []byte) error {
		var err error
		c, err = openContainer(k, data)
		return err
	})
	if err != nil {
		v.state = StateRecovered
		v.quarantine = true
		v.log.Warnw("vault could not be loaded; continuing with an empty vault", "error", err)
		return err
	}

	v.loadLocked(c)
	v.state = StateLoaded
	v.log.Infow("vault loaded", "records", len(v.records))
	return nil
}

// Close destroys the active key and drops all records from memory.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
}

func (v *Vault) closeLocked() {
	if v.key != nil {
		v.key.Destroy()
		v.key = nil
	}
	v.records = make(map[string]storedRecord)
	v.categories = nil
	v.meta = metadata{}
	v.quarantine = false
	v.state = StateClosed
}

func (v *Vault) resetLocked() {
	now := v.now()
	v.records = make(map[string]storedRecord)
	v.categories = append([]string(nil), DefaultCategories...)
	v.meta = metadata{CreatedAt: now, LastModified: now}
}

func (v *Vault) loadLocked(c container) {
	v.records = make(map[string]storedRecord, len(c.Records))
	for _, r := range c.Records {
		v.records[r.ID] = r
	}
	v.categories = nil
	for _, name := range c.Categories {
		v.addCategoryLocked(name)
	}
	v.addCategoryLocked(DefaultCategory)
	for _, r := range c.Records {
		v.addCategoryLocked(r.Category)
	}
	v.meta = c.Metadata
}

func (v *Vault) usableLocked() error {
	if v.state != StateLoaded && v.state != StateRecovered {
		return common.ErrLocked
	}
	if !v.key.Alive() {
		return common.ErrLocked
	}
	return nil
}

// snapshot captures what a mutation may change so a failed save can undo it.
type snapshot struct {
	records    map[string]storedRecord
	categories []string
	meta       metadata
}

func (v *Vault) snapshotLocked() snapshot {
	records := make(map[string]storedRecord, len(v.records))
	for id, r := range v.records {
		records[id] = r
	}
	return snapshot{
		records:    records,
		categories: append([]string(nil), v.categories...),
		meta:       v.meta,
	}
}

func (v *Vault) restoreLocked(s snapshot) {
	v.records = s.records
	v.categories = s.categories
	v.meta = s.meta
}

// commitLocked persists the current state or rolls memory back to s.
func (v *Vault) commitLocked(s snapshot) error {
	v.meta.LastModified = v.now()
	if err := v.persistLocked(); err != nil {
		v.restoreLocked(s)
		return err
	}
	if v.state == StateRecovered {
		v.state = StateLoaded
	}
	return nil
}

func (v *Vault) containerLocked() container {
	records := make([]storedRecord, 0, len(v.records))
	for _, r := range v.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	meta := v.meta
	meta.EntryCount = len(records)
	return container{
		Version:    ContainerVersion,
		Metadata:   meta,
		Categories: append([]string(nil), v.categories...),
		Records:    records,
	}
}

// persistLocked writes the whole container: serialize, checksum, encrypt,
// wrap in an envelope, write a temp file and rename it over the vault file.
func (v *Vault) persistLocked() error {
	c := v.containerLocked()

	var data []byte
	err := v.key.Use(func(k []byte) error {
		var err error
		data, err = sealContainer(k, c)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}

	if v.quarantine {
		aside := store.QuarantinePath(v.opts.Path, v.now())
		if err := v.opts.Backend.Rename(v.opts.Path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: quarantine unreadable vault: %w", common.ErrPersistence, err)
		}
		v.log.Warnw("moved unreadable vault aside", "quarantine", aside)
		v.quarantine = false
	}

	if err := v.opts.Backend.WriteAtomic(v.opts.Path, data); err != nil {
		return fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	v.meta.EntryCount = c.Metadata.EntryCount
	return nil
}

// Save forces a full write of the current state.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.usableLocked(); err != nil {
		return err
	}
	return v.commitLocked(v.snapshotLocked())
}
