// Package account tracks the signed-in user on this device. Identities come
// from Firebase Authentication via the Admin SDK; the active session is kept
// in a small YAML file so every CLI invocation shares it.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNoUser is returned by operations that need a signed-in user.
var ErrNoUser = errors.New("no user signed in")

// ErrNoDirectory is returned by operations that need Firebase Authentication
// when none is configured.
var ErrNoDirectory = errors.New("firebase authentication not configured")

// Directory is the subset of the Firebase Auth admin client used here.
// Implemented by [auth.Client].
type Directory interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
}

// User is the signed-in identity.
type User struct {
	ID         string    `yaml:"id"`
	Anonymous  bool      `yaml:"anonymous"`
	Email      string    `yaml:"email,omitempty"`
	Provider   string    `yaml:"provider,omitempty"`
	SignedInAt time.Time `yaml:"signed_in_at"`
}

// Service manages the current session. It is safe for concurrent use.
type Service struct {
	path string
	dir  Directory // nil when Firebase Authentication is not configured
	log  *slog.Logger
	now  func() time.Time

	mu   sync.Mutex
	user *User
	subs map[chan bool]struct{}
}

// NewService loads the session stored at path, if any. dir may be nil, in
// which case only anonymous local accounts are available.
func NewService(path string, dir Directory, logger *slog.Logger) (*Service, error) {
	s := &Service{
		path: path,
		dir:  dir,
		log:  logger,
		now:  time.Now,
		subs: make(map[chan bool]struct{}),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var u User
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", path, err)
	}
	if u.ID != "" {
		s.user = &u
	}
	return s, nil
}

// CurrentUserID returns the signed-in user's id, or "" when signed out.
func (s *Service) CurrentUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// HasUser reports whether a user is signed in.
func (s *Service) HasUser() bool {
	return s.CurrentUserID() != ""
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *Service) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Subscribe returns a channel that receives the current signed-in state and
// then every change to it. Intermediate states may be dropped for a slow
// reader; the last one is always delivered. The channel is closed when ctx is
// done.
func (s *Service) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	s.mu.Lock()
	ch <- s.user != nil
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// SignInWithIDToken verifies a Firebase ID token and makes its user current.
func (s *Service) SignInWithIDToken(ctx context.Context, idToken string) (*User, error) {
	if s.dir == nil {
		return nil, ErrNoDirectory
	}
	tok, err := s.dir.VerifyIDToken(ctx, strings.TrimSpace(idToken))
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	u := &User{
		ID:         tok.UID,
		Provider:   tok.Firebase.SignInProvider,
		Anonymous:  tok.Firebase.SignInProvider == "anonymous",
		SignedInAt: s.now(),
	}
	if email, ok := tok.Claims["email"].(string); ok {
		u.Email = email
	}
	if err := s.setUser(u); err != nil {
		return nil, err
	}
	s.log.Info("signed in", "user_id", u.ID, "provider", u.Provider)
	return u, nil
}

// SignInAnonymously creates an anonymous account and makes it current. With
// Firebase Authentication configured the account is registered there;
// otherwise a local-only id is generated.
func (s *Service) SignInAnonymously(ctx context.Context) (*User, error) {
	u := &User{Anonymous: true, Provider: "anonymous", SignedInAt: s.now()}

	if s.dir != nil {
		rec, err := s.dir.CreateUser(ctx, &auth.UserToCreate{})
		if err != nil {
			return nil, fmt.Errorf("creating anonymous account: %w", err)
		}
		u.ID = rec.UID
	} else {
		u.ID = "local-" + uuid.NewString()
	}

	if err := s.setUser(u); err != nil {
		return nil, err
	}
	s.log.Info("signed in anonymously", "user_id", u.ID)
	return u, nil
}

// SignUp registers a new email/password account and makes it current.
func (s *Service) SignUp(ctx context.Context, email, password string) (*User, error) {
	if s.dir == nil {
		return nil, ErrNoDirectory
	}
	if err := validCredentials(email, password); err != nil {
		return nil, err
	}
	rec, err := s.dir.CreateUser(ctx, (&auth.UserToCreate{}).Email(email).Password(password))
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	u := &User{ID: rec.UID, Email: email, Provider: "password", SignedInAt: s.now()}
	if err := s.setUser(u); err != nil {
		return nil, err
	}
	s.log.Info("account created", "user_id", u.ID)
	return u, nil
}

// LinkAccount attaches email/password credentials to the current anonymous
// account, keeping its id so existing reports stay owned by it.
func (s *Service) LinkAccount(ctx context.Context, email, password string) (*User, error) {
	if s.dir == nil {
		return nil, ErrNoDirectory
	}
	cur := s.CurrentUser()
	if cur == nil {
		return nil, ErrNoUser
	}
	if strings.HasPrefix(cur.ID, "local-") {
		return nil, fmt.Errorf("account %s exists only on this device and cannot be linked", cur.ID)
	}
	if err := validCredentials(email, password); err != nil {
		return nil, err
	}

	if _, err := s.dir.UpdateUser(ctx, cur.ID, (&auth.UserToUpdate{}).Email(email).Password(password)); err != nil {
		return nil, fmt.Errorf("linking account: %w", err)
	}
	cur.Email = email
	cur.Anonymous = false
	cur.Provider = "password"
	if err := s.setUser(cur); err != nil {
		return nil, err
	}
	s.log.Info("account linked", "user_id", cur.ID)
	return cur, nil
}

// SignOut forgets the current session.
func (s *Service) SignOut(context.Context) error {
	if err := s.setUser(nil); err != nil {
		return err
	}
	s.log.Info("signed out")
	return nil
}

// DeleteAccount removes the current account from Firebase Authentication and
// signs out.
func (s *Service) DeleteAccount(ctx context.Context) error {
	cur := s.CurrentUser()
	if cur == nil {
		return ErrNoUser
	}
	if s.dir != nil && !strings.HasPrefix(cur.ID, "local-") {
		if err := s.dir.DeleteUser(ctx, cur.ID); err != nil && !auth.IsUserNotFound(err) {
			return fmt.Errorf("deleting account: %w", err)
		}
	}
	return s.SignOut(ctx)
}

// setUser persists u (nil signs out) and notifies subscribers when the
// signed-in state changes.
func (s *Service) setUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(u); err != nil {
		return err
	}
	was := s.user != nil
	s.user = u
	if now := u != nil; now != was {
		for ch := range s.subs {
			// Keep only the latest state for slow readers.
			select {
			case <-ch:
			default:
			}
			ch <- now
		}
	}
	return nil
}

func (s *Service) persist(u *User) error {
	if u == nil {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing session: %w", err)
		}
		return nil
	}

	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}
