package service

import (
	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/internal/session"
)

// Lock locks the session immediately.
func (s *Service) Lock() Result {
	return s.call("lock", func() (any, error) {
		s.gate.ForceLock()
		return s.gate.Status(), nil
	})
}

// Unlock re-authenticates the signed-in user and reopens their vault.
func (s *Service) Unlock(masterPassword string) Result {
	return s.call("unlock", func() (any, error) {
		if s.gate.State() == session.Unlocked {
			return nil, common.Invalid("session", "already unlocked")
		}
		if err := s.gate.Unlock(masterPassword); err != nil {
			return nil, err
		}
		st, err := s.openVault()
		if err != nil {
			s.gate.ForceLock()
			return nil, err
		}
		return st, nil
	})
}

// RegisterActivity postpones the auto-lock deadline.
func (s *Service) RegisterActivity() Result {
	return s.call("registerActivity", func() (any, error) {
		if s.gate.State() != session.Unlocked {
			return nil, common.ErrLocked
		}
		s.gate.RegisterActivity()
		return s.gate.Status(), nil
	})
}

// SetLockTimeout changes the inactivity timeout; 1 to 60 minutes.
func (s *Service) SetLockTimeout(minutes float64) Result {
	return s.call("setLockTimeout", func() (any, error) {
		if err := s.gate.SetTimeout(minutes); err != nil {
			return nil, err
		}
		return s.gate.Status(), nil
	})
}

// SetAutoLock turns the inactivity timer on or off.
func (s *Service) SetAutoLock(enabled bool) Result {
	return s.call("setAutoLock", func() (any, error) {
		s.gate.SetEnabled(enabled)
		return s.gate.Status(), nil
	})
}

// GetTimeUntilLock reports the remaining milliseconds before auto-lock.
func (s *Service) GetTimeUntilLock() Result {
	return s.call("getTimeUntilLock", func() (any, error) {
		return s.gate.TimeUntilLock().Milliseconds(), nil
	})
}

// GetLockState reports the gate status.
func (s *Service) GetLockState() Result {
	return s.call("getLockState", func() (any, error) {
		return s.gate.Status(), nil
	})
}
