package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

var (
	ErrNotConfigured  = errors.New("telegram api credentials are not configured")
	ErrCodeNotPending = errors.New("telegram login code was not requested")
	ErrPasswordNeeded = errors.New("telegram password is required")
	ErrUnauthorized   = errors.New("telegram session is not authorized")
	ErrUnknownChat    = errors.New("chat is not among the account dialogs")
)

type AuthStatus struct {
	Configured   bool
	Authorized   bool
	AwaitingCode bool
	Phone        string
	UserDisplay  string
}

// Service owns the MTProto session and hands out short-lived connections.
// Each exported call spins up a client, runs the callback and tears the
// client down, persisting session state through SafeFileSessionStorage.
type Service struct {
	sessionPath string

	mu           sync.RWMutex
	runMu        sync.Mutex
	apiID        int
	apiHash      string
	pendingPhone string
	pendingHash  string
}

func NewService(sessionPath string) *Service {
	return &Service{sessionPath: sessionPath}
}

func (s *Service) Configure(apiID int, apiHash string) error {
	apiHash = strings.TrimSpace(apiHash)
	if apiID <= 0 || apiHash == "" {
		return ErrNotConfigured
	}

	s.mu.Lock()
	s.apiID = apiID
	s.apiHash = apiHash
	s.mu.Unlock()
	return nil
}

func (s *Service) AuthStatus(ctx context.Context) (AuthStatus, error) {
	status := AuthStatus{}
	apiID, apiHash, err := s.credentials()
	if err != nil {
		status.AwaitingCode, status.Phone = s.pending()
		return status, nil
	}

	status.Configured = true
	status.AwaitingCode, status.Phone = s.pending()
	err = s.withClient(ctx, apiID, apiHash, func(runCtx context.Context, client *tdtelegram.Client) error {
		authStatus, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		status.Authorized = authStatus.Authorized
		if authStatus.User != nil {
			status.UserDisplay = formatUserDisplay(authStatus.User)
		}
		return nil
	})
	if err != nil {
		return status, err
	}
	return status, nil
}

func (s *Service) RequestCode(ctx context.Context, phone string) (AuthStatus, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return AuthStatus{}, errors.New("telegram phone is required")
	}

	apiID, apiHash, err := s.credentials()
	if err != nil {
		return AuthStatus{}, err
	}

	err = s.withClient(ctx, apiID, apiHash, func(runCtx context.Context, client *tdtelegram.Client) error {
		current, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		if current.Authorized {
			s.clearPending()
			return nil
		}

		sentCode, sendErr := client.Auth().SendCode(runCtx, phone, auth.SendCodeOptions{})
		if sendErr != nil {
			return sendErr
		}

		switch sent := sentCode.(type) {
		case *tg.AuthSentCode:
			s.setPending(phone, sent.PhoneCodeHash)
		case *tg.AuthSentCodeSuccess:
			s.clearPending()
		default:
			return fmt.Errorf("unexpected send code result type: %T", sentCode)
		}
		return nil
	})
	if err != nil {
		return AuthStatus{}, err
	}

	return s.AuthStatus(ctx)
}

func (s *Service) SignIn(ctx context.Context, code, password string) (AuthStatus, error) {
	code = strings.TrimSpace(code)
	password = strings.TrimSpace(password)
	if code == "" {
		return AuthStatus{}, errors.New("telegram login code is required")
	}

	phone, hash, ok := s.pendingCode()
	if !ok {
		return AuthStatus{}, ErrCodeNotPending
	}
	apiID, apiHash, err := s.credentials()
	if err != nil {
		return AuthStatus{}, err
	}

	err = s.withClient(ctx, apiID, apiHash, func(runCtx context.Context, client *tdtelegram.Client) error {
		_, signInErr := client.Auth().SignIn(runCtx, phone, code, hash)
		if errors.Is(signInErr, auth.ErrPasswordAuthNeeded) {
			if password == "" {
				return ErrPasswordNeeded
			}
			_, pwdErr := client.Auth().Password(runCtx, password)
			if pwdErr != nil {
				return pwdErr
			}
			return nil
		}
		return signInErr
	})
	if err != nil {
		return AuthStatus{}, err
	}

	s.clearPending()
	return s.AuthStatus(ctx)
}

// Connect establishes an authorized session, resolves the account dialogs
// and runs fn against the connection. The whole crawl of a chat happens
// inside one Connect call so input peers stay valid.
func (s *Service) Connect(ctx context.Context, fn func(context.Context, *Conn) error) error {
	apiID, apiHash, err := s.credentials()
	if err != nil {
		return err
	}

	return s.withClient(ctx, apiID, apiHash, func(runCtx context.Context, client *tdtelegram.Client) error {
		authStatus, statusErr := client.Auth().Status(runCtx)
		if statusErr != nil {
			return statusErr
		}
		if !authStatus.Authorized {
			return ErrUnauthorized
		}

		conn := &Conn{api: client.API()}
		if err := conn.resolveDialogs(runCtx); err != nil {
			return err
		}
		return fn(runCtx, conn)
	})
}

// The pending code state outlives the process: requesting a code and
// submitting it are separate command invocations.
type pendingLogin struct {
	Phone string `json:"phone"`
	Hash  string `json:"phone_code_hash"`
}

func (s *Service) pendingPath() string {
	return s.sessionPath + ".pending"
}

func (s *Service) pendingCode() (phone string, hash string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadPendingLocked()
	if s.pendingPhone == "" || s.pendingHash == "" {
		return "", "", false
	}
	return s.pendingPhone, s.pendingHash, true
}

func (s *Service) pending() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadPendingLocked()
	return s.pendingHash != "", s.pendingPhone
}

func (s *Service) loadPendingLocked() {
	if s.pendingHash != "" {
		return
	}
	raw, err := os.ReadFile(s.pendingPath())
	if err != nil {
		return
	}
	var stored pendingLogin
	if json.Unmarshal(raw, &stored) != nil {
		return
	}
	s.pendingPhone = stored.Phone
	s.pendingHash = stored.Hash
}

func (s *Service) setPending(phone, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPhone = phone
	s.pendingHash = hash
	if raw, err := json.Marshal(pendingLogin{Phone: phone, Hash: hash}); err == nil {
		_ = os.WriteFile(s.pendingPath(), raw, 0o600)
	}
}

func (s *Service) clearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPhone = ""
	s.pendingHash = ""
	_ = os.Remove(s.pendingPath())
}

func (s *Service) credentials() (int, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiID <= 0 || strings.TrimSpace(s.apiHash) == "" {
		return 0, "", ErrNotConfigured
	}
	return s.apiID, s.apiHash, nil
}

func (s *Service) withClient(ctx context.Context, apiID int, apiHash string, fn func(context.Context, *tdtelegram.Client) error) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.sessionPath), 0o755); err != nil {
		return err
	}

	client := tdtelegram.NewClient(apiID, apiHash, tdtelegram.Options{
		SessionStorage: &SafeFileSessionStorage{
			Path: s.sessionPath,
		},
	})
	return client.Run(ctx, func(runCtx context.Context) error {
		return fn(runCtx, client)
	})
}
