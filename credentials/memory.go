package credentials

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// Memory is an in-process Store. It is safe for concurrent use and intended for tests
// and single-node development.
type Memory struct {
	mu         sync.RWMutex
	users      map[string]*User
	byEmail    map[string]string
	byUsername map[string]string
	byOAuth    map[string]string
	mfa        map[string]*MFASettings
	now        func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		byOAuth:    make(map[string]string),
		mfa:        make(map[string]*MFASettings),
		now:        time.Now,
	}
}

func oauthKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	if _, ok := m.byUsername[u.Username]; ok {
		return ErrDuplicateUsername
	}
	if u.OAuthProvider != "" {
		if _, ok := m.byOAuth[oauthKey(u.OAuthProvider, u.OAuthProviderID)]; ok {
			return ErrDuplicateOAuth
		}
	}

	now := m.now()
	stored := u.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.users[stored.ID] = stored
	m.byEmail[stored.Email] = stored.ID
	m.byUsername[stored.Username] = stored.ID
	if stored.OAuthProvider != "" {
		m.byOAuth[oauthKey(stored.OAuthProvider, stored.OAuthProviderID)] = stored.ID
	}
	u.CreatedAt, u.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (m *Memory) lookup(index map[string]string, key string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.users[id].clone(), nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.clone(), nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	return m.lookup(m.byEmail, email)
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*User, error) {
	return m.lookup(m.byUsername, username)
}

func (m *Memory) GetUserByOAuth(_ context.Context, provider, providerID string) (*User, error) {
	return m.lookup(m.byOAuth, oauthKey(provider, providerID))
}

func (m *Memory) update(id string, fn func(u *User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return m.update(userID, func(u *User) { u.PasswordHash = hash })
}

func (m *Memory) UpdateRole(_ context.Context, userID string, role Role) error {
	return m.update(userID, func(u *User) { u.Role = role })
}

func (m *Memory) SetActive(_ context.Context, userID string, active bool) error {
	return m.update(userID, func(u *User) { u.Active = active })
}

func (m *Memory) MarkEmailVerified(_ context.Context, userID string) error {
	return m.update(userID, func(u *User) { u.EmailVerified = true })
}

func (m *Memory) LinkOAuth(_ context.Context, userID, provider, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	key := oauthKey(provider, providerID)
	if owner, ok := m.byOAuth[key]; ok {
		if owner == userID {
			return nil
		}
		return ErrDuplicateOAuth
	}
	if u.OAuthProvider != "" {
		delete(m.byOAuth, oauthKey(u.OAuthProvider, u.OAuthProviderID))
	}
	u.OAuthProvider, u.OAuthProviderID = provider, providerID
	u.UpdatedAt = m.now()
	m.byOAuth[key] = userID
	return nil
}

func (m *Memory) GetMFA(_ context.Context, userID string) (*MFASettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.mfa[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *Memory) SaveMFA(_ context.Context, settings *MFASettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[settings.UserID]; !ok {
		return ErrNotFound
	}
	stored := settings.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.mfa[settings.UserID] = stored
	return nil
}

func (m *Memory) withMFA(userID string, fn func(s *MFASettings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mfa[userID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	return nil
}

func (m *Memory) EnableMFA(_ context.Context, userID string) error {
	return m.withMFA(userID, func(s *MFASettings) { s.Enabled = true })
}

func (m *Memory) AdvanceTOTPCounter(_ context.Context, userID string, counter int64) (bool, error) {
	advanced := false
	err := m.withMFA(userID, func(s *MFASettings) {
		if counter > s.LastUsedCounter {
			s.LastUsedCounter = counter
			advanced = true
		}
	})
	return advanced, err
}

func (m *Memory) ReplaceBackupCodes(_ context.Context, userID string, hashes [][32]byte) error {
	return m.withMFA(userID, func(s *MFASettings) {
		s.BackupCodes = append([][32]byte(nil), hashes...)
	})
}

func (m *Memory) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	consumed := false
	err := m.withMFA(userID, func(s *MFASettings) {
		for i := range s.BackupCodes {
			if subtle.ConstantTimeCompare(s.BackupCodes[i][:], hash[:]) == 1 {
				s.BackupCodes = append(s.BackupCodes[:i], s.BackupCodes[i+1:]...)
				consumed = true
				return
			}
		}
	})
	return consumed, err
}

func (m *Memory) DeleteMFA(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mfa, userID)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

var _ Store = (*Memory)(nil)
