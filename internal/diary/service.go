package diary

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLength = 64
	// bcrypt は72バイトを超える入力を扱えない
	maxPasswordBytes = 72
)

// Store はアカウントの永続化を担います。実装は同時呼び出しに対して安全である必要があります。
type Store interface {
	// CreateLocal はローカルアカウントを作成します。ユーザー名が重複する場合は ErrUsernameTaken を返します。
	CreateLocal(ctx context.Context, username, passwordHash string) (*Account, error)
	// FindByUsername は該当がなければ ErrAccountNotFound を返します。
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// FindByID は該当がなければ ErrAccountNotFound を返します。
	FindByID(ctx context.Context, id string) (*Account, error)
	// FindOrCreateByProvider はプロバイダーIDでアカウントを検索し、なければ作成します。
	// 同じIDで同時に呼ばれてもアカウントは1件しか作られません。
	FindOrCreateByProvider(ctx context.Context, provider Provider, subject string) (*Account, bool, error)
	// UpsertEntry は同日の日記を上書きまたは追加します。アカウント単位で原子的に行われます。
	UpsertEntry(ctx context.Context, accountID string, entry Entry) (bool, error)
	// ListByDate は指定日の日記を持つアカウントをすべて返します。
	ListByDate(ctx context.Context, date string) ([]*Account, error)
	Close(ctx context.Context) error
}

// TodayEntry は一覧画面に表示する1件分の日記です。
type TodayEntry struct {
	AccountID string
	Task      string
}

// Options は Service の振る舞いを調整します。ゼロ値で動作します。
type Options struct {
	Now        func() time.Time
	Location   *time.Location
	BcryptCost int
	Logger     *slog.Logger
}

// Service は登録・ログイン・投稿・一覧のユースケースをまとめたものです。
type Service struct {
	store    Store
	now      func() time.Time
	location *time.Location
	cost     int
	logger   *slog.Logger
}

// NewService は Service を作成します。
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		now:      opts.Now,
		location: opts.Location,
		cost:     opts.BcryptCost,
		logger:   opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Today は現在の暦日キー（M/D/YYYY）を返します。
func (s *Service) Today() string {
	return DateKey(s.now().In(s.location))
}

// Register はローカルアカウントを作成します。
func (s *Service) Register(ctx context.Context, username, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.Wrap(ErrInvalidInput, "username and password are required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, errors.Wrapf(ErrInvalidInput, "username longer than %d characters", maxUsernameLength)
	}
	if len(password) > maxPasswordBytes {
		return nil, errors.Wrapf(ErrInvalidInput, "password longer than %d bytes", maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	account, err := s.store.CreateLocal(ctx, username, string(hash))
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "local account registered", slog.String("account_id", account.ID))
	return account, nil
}

// Authenticate はユーザー名とパスワードを検証します。
// 未登録ユーザーとパスワード不一致はどちらも ErrInvalidCredentials になります。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	local, ok := account.Identity.(LocalIdentity)
	if !ok || local.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(local.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// LoginWithProvider は外部プロバイダーのIDに対応するアカウントを返します（なければ作成）。
func (s *Service) LoginWithProvider(ctx context.Context, provider Provider, subject string) (*Account, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.Wrap(ErrInvalidInput, "provider subject is empty")
	}
	account, created, err := s.store.FindOrCreateByProvider(ctx, provider, subject)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.InfoContext(ctx, "provider account created",
			slog.String("provider", string(provider)),
			slog.String("account_id", account.ID))
	}
	return account, nil
}

// Submit は今日の日記を保存します。同日に既に投稿があれば内容を置き換えます。
// 本文は送信されたまま保存し、空白だけの投稿は ErrEmptyEntry になります。
func (s *Service) Submit(ctx context.Context, accountID, task string) (bool, error) {
	if strings.TrimSpace(task) == "" {
		return false, ErrEmptyEntry
	}
	entry := Entry{Date: s.Today(), Task: task}
	replaced, err := s.store.UpsertEntry(ctx, accountID, entry)
	if err != nil {
		return false, err
	}
	s.logger.DebugContext(ctx, "diary entry saved",
		slog.String("account_id", accountID),
		slog.String("date", entry.Date),
		slog.Bool("replaced", replaced))
	return replaced, nil
}

// ListToday は今日投稿された日記を全アカウント分返します。
func (s *Service) ListToday(ctx context.Context) (string, []TodayEntry, error) {
	today := s.Today()
	accounts, err := s.store.ListByDate(ctx, today)
	if err != nil {
		return today, nil, err
	}
	entries := make([]TodayEntry, 0, len(accounts))
	for _, account := range accounts {
		entry, ok := account.EntryFor(today)
		if !ok {
			continue
		}
		entries = append(entries, TodayEntry{AccountID: account.ID, Task: entry.Task})
	}
	return today, entries, nil
}
