package account

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken    = errors.New("username already taken")
	ErrNicknameTaken    = errors.New("nickname already taken")
	ErrNicknameCooldown = errors.New("nickname changed too recently")
	ErrBadCredentials   = errors.New("invalid username or password")
	ErrNotFound         = errors.New("account not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// NicknameCooldown limits how often an account may rename itself.
const NicknameCooldown = 24 * time.Hour

type Account struct {
	ID                   string
	Username             string
	Nickname             string
	PasswordHash         string
	Icon                 string
	LastNicknameChangeAt time.Time
	CreatedAt            time.Time
}

// Session is a sliding-TTL login token. Every successful Resolve pushes
// ExpiresAt forward by the store's TTL.
type Session struct {
	Token      string
	AccountID  string
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// Store owns Account and Session mutation. Accessed from HTTP handlers and
// the broker loop concurrently, so every entry point takes the lock.
type Store struct {
	mu         sync.Mutex
	accounts   map[string]*Account // by id
	byUsername map[string]string
	byNickname map[string]string
	sessions   map[string]*Session
	ttl        time.Duration
	onChange   func()
	now        func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		accounts:   make(map[string]*Account),
		byUsername: make(map[string]string),
		byNickname: make(map[string]string),
		sessions:   make(map[string]*Session),
		ttl:        ttl,
		now:        time.Now,
	}
}

// OnChange registers a hook fired after every mutation, typically the
// persistence gateway's ScheduleSave.
func (s *Store) OnChange(fn func()) { s.onChange = fn }

// SetClock overrides the store's clock; tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}

func randomID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return "acct_" + hex.EncodeToString(b)
}

// Register creates an account and an initial login session.
func (s *Store) Register(username, password, nickname string) (Account, string, error) {
	username = strings.TrimSpace(username)
	nickname = strings.TrimSpace(nickname)
	if username == "" || nickname == "" || len(password) < 4 {
		return Account{}, "", ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[username]; taken {
		return Account{}, "", ErrUsernameTaken
	}
	if _, taken := s.byNickname[nickname]; taken {
		return Account{}, "", ErrNicknameTaken
	}

	a := &Account{
		ID:           randomID(),
		Username:     username,
		Nickname:     nickname,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	s.accounts[a.ID] = a
	s.byUsername[username] = a.ID
	s.byNickname[nickname] = a.ID
	token := s.createSessionLocked(a.ID)
	s.changed()
	return *a, token, nil
}

// Login validates credentials and issues a fresh session token.
func (s *Store) Login(username, password string) (Account, string, error) {
	s.mu.Lock()
	id, ok := s.byUsername[strings.TrimSpace(username)]
	if !ok {
		s.mu.Unlock()
		// Burn a comparison anyway so missing users cost the same as bad
		// passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return Account{}, "", ErrBadCredentials
	}
	a := s.accounts[id]
	s.mu.Unlock()

	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return Account{}, "", ErrBadCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.createSessionLocked(id)
	s.changed()
	return *a, token, nil
}

func (s *Store) createSessionLocked(accountID string) string {
	token := randomToken()
	now := s.now()
	s.sessions[token] = &Session{
		Token:      token,
		AccountID:  accountID,
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
	}
	return token
}

// Resolve maps a session token to an account id. A valid hit slides
// ExpiresAt forward by the TTL; an expired token is deleted on sight.
func (s *Store) Resolve(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, token)
		s.changed()
		return "", false
	}
	sess.ExpiresAt = now.Add(s.ttl)
	sess.LastUsedAt = now
	s.changed()
	return sess.AccountID, true
}

func (s *Store) Get(accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

// NicknameOf returns the current nickname, or "" for an unknown id.
func (s *Store) NicknameOf(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[accountID]; ok {
		return a.Nickname
	}
	return ""
}

// ResolveNickname maps a unique nickname back to an account id; used by the
// persistence gateway's legacy-key migration.
func (s *Store) ResolveNickname(nickname string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNickname[nickname]
	return id, ok
}

func (s *Store) ChangeNickname(accountID, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.Nickname == nickname {
		return nil
	}
	if _, taken := s.byNickname[nickname]; taken {
		return ErrNicknameTaken
	}
	now := s.now()
	if !a.LastNicknameChangeAt.IsZero() && now.Sub(a.LastNicknameChangeAt) < NicknameCooldown {
		return ErrNicknameCooldown
	}
	delete(s.byNickname, a.Nickname)
	a.Nickname = nickname
	a.LastNicknameChangeAt = now
	s.byNickname[nickname] = accountID
	s.changed()
	return nil
}

func (s *Store) ChangeIcon(accountID, icon string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Icon = icon
	s.changed()
	return nil
}

// SweepExpired drops every session past its expiry. Resolve already purges
// lazily; this keeps tokens for idle accounts from piling up.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		s.changed()
	}
	return removed
}

// Export snapshots accounts and sessions for a persistence flush.
func (s *Store) Export() ([]Account, []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sessions := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, *sess)
	}
	return accounts, sessions
}

// Load replaces the in-memory state; called once at startup before the
// broker accepts connections.
func (s *Store) Load(accounts []Account, sessions []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*Account, len(accounts))
	s.byUsername = make(map[string]string, len(accounts))
	s.byNickname = make(map[string]string, len(accounts))
	for i := range accounts {
		a := accounts[i]
		s.accounts[a.ID] = &a
		s.byUsername[a.Username] = a.ID
		s.byNickname[a.Nickname] = a.ID
	}
	s.sessions = make(map[string]*Session, len(sessions))
	for i := range sessions {
		sess := sessions[i]
		s.sessions[sess.Token] = &sess
	}
}
