// Package account stores user accounts: a password verifier and the account's
// vault key wrapped under a key derived from the master password. Changing
// the master password re-wraps the vault key and leaves the vault untouched.
package account

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/db"
	"github.com/melvsalonga/securepass/krypto"
)

const (
	verifierInfo = "securepass-verifier-v1"
	maxUsername  = 64
)

// Summary is the public view of an account.
type Summary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Options configures a Store.
type Options struct {
	DB     *db.DB
	Tiers  krypto.Tiers
	Logger *zap.SugaredLogger
	// Policy checks a new master password; nil accepts any non-empty password.
	Policy func(password, username string) error
	Now    func() time.Time
}

// Store is the account registry backed by SQLite.
type Store struct {
	mu     sync.Mutex
	db     *db.DB
	tiers  krypto.Tiers
	log    *zap.SugaredLogger
	policy func(password, username string) error
	now    func() time.Time

	// dummySalt feeds the derivation run for unknown users.
	dummySalt []byte
}

// New migrates the schema and returns a Store.
func New(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, errors.New("account store: database is required")
	}
	if err := opts.Tiers.Validate(); err != nil {
		return nil, fmt.Errorf("account store: %w", err)
	}
	if err := db.Migrate(opts.DB); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	salt, err := krypto.GenerateSalt(krypto.DefaultSaltLen)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        opts.DB,
		tiers:     opts.Tiers,
		log:       opts.Logger,
		policy:    opts.Policy,
		now:       opts.Now,
		dummySalt: salt,
	}, nil
}

func normalizeUsername(u string) (string, error) {
	u = strings.TrimSpace(u)
	if u == "" {
		return "", common.Invalid("username", "is required")
	}
	if len(u) > maxUsername {
		return "", common.Invalid("username", fmt.Sprintf("must be at most %d characters", maxUsername))
	}
	return u, nil
}

func wrapAAD(accountID string) []byte {
	return []byte("account.vault-key:" + accountID)
}

// verifier derives the stored password check value at the record tier.
func verifier(password string, salt []byte, p krypto.Argon2Params) ([]byte, error) {
	k, err := krypto.DeriveKey([]byte(password), salt, p)
	if err != nil {
		return nil, err
	}
	defer krypto.Wipe(k)
	return krypto.SubKey(k, salt, verifierInfo)
}

// credentials derives a fresh salt, verifier and wrapped vault key for password.
func (s *Store) credentials(row *db.AccountRow, password string, vaultKey *krypto.SecretKey) error {
	salt, err := krypto.GenerateSalt(krypto.DefaultSaltLen)
	if err != nil {
		return err
	}
	ver, err := verifier(password, salt, s.tiers.Record)
	if err != nil {
		return fmt.Errorf("derive verifier: %w", err)
	}
	wrapKey, err := krypto.DeriveKey([]byte(password), salt, s.tiers.Master)
	if err != nil {
		return fmt.Errorf("derive wrap key: %w", err)
	}
	defer krypto.Wipe(wrapKey)

	var sealed krypto.Sealed
	err = vaultKey.Use(func(k []byte) error {
		var err error
		sealed, err = krypto.Encrypt(wrapKey, k, wrapAAD(row.ID))
		return err
	})
	if err != nil {
		return fmt.Errorf("wrap vault key: %w", err)
	}

	recordParams, err := json.Marshal(s.tiers.Record)
	if err != nil {
		return err
	}
	masterParams, err := json.Marshal(s.tiers.Master)
	if err != nil {
		return err
	}

	row.Verifier = ver
	row.Salt = salt
	row.WrapAlg = sealed.Alg
	row.WrapNonce = sealed.Nonce
	row.WrapTag = sealed.Tag
	row.WrappedKey = sealed.Ciphertext
	row.RecordParams = string(recordParams)
	row.MasterParams = string(masterParams)
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateAccount registers username with a new random vault key.
func (s *Store) CreateAccount(username, masterPassword string) (Summary, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return Summary{}, err
	}
	if masterPassword == "" {
		return Summary{}, common.Invalid("masterPassword", "is required")
	}
	if s.policy != nil {
		if err := s.policy(masterPassword, username); err != nil {
			return Summary{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := db.GetAccountByUsername(s.db, username); err == nil {
		return Summary{}, fmt.Errorf("%q: %w", username, common.ErrDuplicateUser)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Summary{}, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}

	vaultKey := krypto.RandomSecretKey()
	defer vaultKey.Destroy()

	now := s.stamp()
	row := db.AccountRow{ID: uuid.NewString(), Username: username, CreatedAt: now, UpdatedAt: now}
	if err := s.credentials(&row, masterPassword, vaultKey); err != nil {
		return Summary{}, err
	}
	if err := db.InsertAccount(s.db, row); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Summary{}, fmt.Errorf("%q: %w", username, common.ErrDuplicateUser)
		}
		return Summary{}, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}

	s.log.Infow("account created", "username", username, "account_id", row.ID)
	return summaryOf(row), nil
}

func summaryOf(row db.AccountRow) Summary {
	created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	return Summary{ID: row.ID, Username: row.Username, CreatedAt: created}
}

// verifyLocked loads username and checks password against its verifier.
func (s *Store) verifyLocked(username, password string) (*db.AccountRow, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}

	row, err := db.GetAccountByUsername(s.db, username)
	if errors.Is(err, sql.ErrNoRows) {
		// Spend the same derivation work so lookups do not reveal which names exist.
		if dummy, derr := verifier(password+" ", s.dummySalt, s.tiers.Record); derr == nil {
			krypto.Wipe(dummy)
		}
		s.log.Warnw("authentication failed", "username", username, "reason", "unknown user")
		return nil, fmt.Errorf("%q: %w", username, common.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	if password == "" {
		s.log.Warnw("authentication failed", "username", username, "reason", "empty password")
		return nil, common.ErrInvalidPassword
	}

	var recordParams krypto.Argon2Params
	if err := json.Unmarshal([]byte(row.RecordParams), &recordParams); err != nil {
		return nil, fmt.Errorf("%w: account %s record params: %v", common.ErrIntegrity, row.ID, err)
	}
	got, err := verifier(password, row.Salt, recordParams)
	if err != nil {
		return nil, fmt.Errorf("derive verifier: %w", err)
	}
	defer krypto.Wipe(got)

	if subtle.ConstantTimeCompare(got, row.Verifier) != 1 {
		s.log.Warnw("authentication failed", "username", username, "reason", "invalid password")
		return nil, common.ErrInvalidPassword
	}
	return row, nil
}

// unwrap recovers the vault key of row with password.
func unwrap(row *db.AccountRow, password string) (*krypto.SecretKey, error) {
	var masterParams krypto.Argon2Params
	if err := json.Unmarshal([]byte(row.MasterParams), &masterParams); err != nil {
		return nil, fmt.Errorf("%w: account %s master params: %v", common.ErrIntegrity, row.ID, err)
	}
	wrapKey, err := krypto.DeriveKey([]byte(password), row.Salt, masterParams)
	if err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	defer krypto.Wipe(wrapKey)

	raw, err := krypto.Decrypt(wrapKey, krypto.Sealed{
		Alg:        row.WrapAlg,
		Nonce:      row.WrapNonce,
		Tag:        row.WrapTag,
		Ciphertext: row.WrappedKey,
	}, wrapAAD(row.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap vault key: %w", common.ErrDecryptionFailed, err)
	}
	return krypto.NewSecretKey(raw)
}

// Authenticate checks the master password and returns the account id with
// its unwrapped vault key. The caller owns the key and must Destroy it.
func (s *Store) Authenticate(username, masterPassword string) (string, *krypto.SecretKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.verifyLocked(username, masterPassword)
	if err != nil {
		return "", nil, err
	}
	key, err := unwrap(row, masterPassword)
	if err != nil {
		s.log.Warnw("vault key unwrap failed", "username", row.Username, "account_id", row.ID, "error", err)
		return "", nil, err
	}
	s.log.Infow("authenticated", "username", row.Username, "account_id", row.ID)
	return row.ID, key, nil
}

// ChangeMasterPassword re-wraps the vault key of username under newPassword
// with a fresh salt. Encrypted vault data is not touched.
func (s *Store) ChangeMasterPassword(username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return common.Invalid("newPassword", "is required")
	}
	if s.policy != nil {
		if err := s.policy(newPassword, strings.TrimSpace(username)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.verifyLocked(username, oldPassword)
	if err != nil {
		return err
	}
	key, err := unwrap(row, oldPassword)
	if err != nil {
		return err
	}
	defer key.Destroy()

	next := *row
	next.UpdatedAt = s.stamp()
	if err := s.credentials(&next, newPassword, key); err != nil {
		return err
	}
	if err := db.UpdateAccountCredentials(s.db, next); err != nil {
		return fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	s.log.Infow("master password changed", "username", row.Username, "account_id", row.ID)
	return nil
}

// Usernames lists registered accounts.
func (s *Store) Usernames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := db.ListUsernames(s.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	return names, nil
}
