// Package service is the request facade used by the CLI and the local API.
// Every operation returns a Result; errors and panics never cross it.
package service

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/account"
	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/session"
	"github.com/melvsalonga/securepass/internal/vault"
	"github.com/melvsalonga/securepass/krypto"
	"github.com/melvsalonga/securepass/store"
)

// Options wires a Service.
type Options struct {
	Accounts  *account.Store
	VaultsDir string
	Backend   store.Backend
	// BackupParams derive keys for encrypted exports.
	BackupParams       krypto.Argon2Params
	HistoryLimit       int
	LockTimeoutMinutes float64
	AutoLock           bool
	Logger             *zap.SugaredLogger
	Now                func() time.Time
	// AfterFunc overrides the auto-lock timer; tests inject a fake clock.
	AfterFunc func(time.Duration, func()) session.Timer
}

// Service owns the session of the signed-in account and its open vault.
type Service struct {
	opts Options
	log  *zap.SugaredLogger
	gate *session.Gate

	mu    sync.Mutex
	vault *vault.Vault
}

// New returns a Service with the gate locked and nobody signed in.
func New(opts Options) (*Service, error) {
	if opts.Accounts == nil {
		return nil, errors.New("service: account store is required")
	}
	if opts.VaultsDir == "" {
		return nil, errors.New("service: vaults directory is required")
	}
	if opts.Backend == nil {
		opts.Backend = store.NewFS()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BackupParams == (krypto.Argon2Params{}) {
		opts.BackupParams = krypto.DefaultTiers().Master
	}

	gate, err := session.New(session.Options{
		Auth:           opts.Accounts,
		TimeoutMinutes: opts.LockTimeoutMinutes,
		Disabled:       !opts.AutoLock,
		Logger:         opts.Logger.Named("session"),
		Now:            opts.Now,
		AfterFunc:      opts.AfterFunc,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{opts: opts, log: opts.Logger, gate: gate}
	gate.Subscribe(s.onSessionEvent)
	return s, nil
}

// Gate exposes the session gate so hosts can subscribe to lock events.
func (s *Service) Gate() *session.Gate {
	return s.gate
}

func (s *Service) onSessionEvent(ev session.Event) error {
	if ev.State != session.Locked {
		return nil
	}
	s.mu.Lock()
	v := s.vault
	s.vault = nil
	s.mu.Unlock()
	if v != nil {
		v.Close()
	}
	return nil
}

func (s *Service) vaultPath(accountID string) string {
	return filepath.Join(s.opts.VaultsDir, accountID+".vault")
}

// openVault loads the vault of the signed-in account with the session key.
// A vault that cannot be read opens empty in the recovered state; the status
// then carries a warning instead of failing the sign-in.
func (s *Service) openVault() (AuthStatus, error) {
	username, accountID := s.gate.Account()
	key, err := s.gate.Key()
	if err != nil {
		return AuthStatus{}, err
	}
	defer key.Destroy()

	v := vault.New(vault.Options{
		Path:         s.vaultPath(accountID),
		Backend:      s.opts.Backend,
		Logger:       s.log.Named("vault"),
		HistoryLimit: s.opts.HistoryLimit,
		Now:          s.opts.Now,
	})
	initErr := v.Initialize(key)
	if v.State() == vault.StateClosed {
		return AuthStatus{}, initErr
	}

	s.mu.Lock()
	old := s.vault
	s.vault = v
	s.mu.Unlock()
	if old != nil && old != v {
		old.Close()
	}

	st := AuthStatus{AccountID: accountID, Username: username, VaultState: v.State().String()}
	if initErr != nil {
		st.Warning = fmt.Sprintf("vault could not be read (%s); continuing with an empty vault, the unreadable file is kept aside on the next change", codeOf(initErr))
		s.log.Warnw("vault recovered empty", "account_id", accountID, "code", codeOf(initErr))
	}
	return st, nil
}

// current returns the open vault or ErrLocked, and counts as user activity.
func (s *Service) current() (*vault.Vault, error) {
	if s.gate.State() != session.Unlocked {
		return nil, common.ErrLocked
	}
	s.mu.Lock()
	v := s.vault
	s.mu.Unlock()
	if v == nil {
		return nil, common.ErrLocked
	}
	s.gate.RegisterActivity()
	return v, nil
}

func (s *Service) withVault(op string, fn func(v *vault.Vault) (any, error)) Result {
	return s.call(op, func() (any, error) {
		v, err := s.current()
		if err != nil {
			return nil, err
		}
		return fn(v)
	})
}

// Close locks the session and releases the vault.
func (s *Service) Close() {
	s.gate.Logout()
	s.mu.Lock()
	v := s.vault
	s.vault = nil
	s.mu.Unlock()
	if v != nil {
		v.Close()
	}
}

// AuthStatus is returned by Authenticate and Unlock.
type AuthStatus struct {
	AccountID  string `json:"accountId"`
	Username   string `json:"username"`
	VaultState string `json:"vaultState"`
	Warning    string `json:"warning,omitempty"`
}

// CreateAccount registers a new account.
func (s *Service) CreateAccount(username, masterPassword string) Result {
	return s.call("createAccount", func() (any, error) {
		return s.opts.Accounts.CreateAccount(username, masterPassword)
	})
}

// Authenticate signs username in, unlocks the gate and opens their vault.
func (s *Service) Authenticate(username, masterPassword string) Result {
	return s.call("authenticate", func() (any, error) {
		accountID, key, err := s.opts.Accounts.Authenticate(username, masterPassword)
		if err != nil {
			return nil, err
		}
		if cur, _ := s.gate.Account(); cur != "" {
			s.gate.Logout()
		}
		s.gate.Open(username, accountID, key)

		st, err := s.openVault()
		if err != nil {
			s.gate.Logout()
			return nil, err
		}
		return st, nil
	})
}

// ChangeMasterPassword re-wraps the signed-in account's vault key.
func (s *Service) ChangeMasterPassword(oldPassword, newPassword string) Result {
	return s.call("changeMasterPassword", func() (any, error) {
		if _, err := s.current(); err != nil {
			return nil, err
		}
		username, _ := s.gate.Account()
		if err := s.opts.Accounts.ChangeMasterPassword(username, oldPassword, newPassword); err != nil {
			return nil, err
		}
		return true, nil
	})
}

// Logout closes the vault, destroys the session key and forgets the user.
func (s *Service) Logout() Result {
	return s.call("logout", func() (any, error) {
		s.gate.Logout()
		return true, nil
	})
}
