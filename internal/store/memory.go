// Package store は diary.Store の実装（MongoDB / PostgreSQL / インメモリ）を提供します。
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yourusername/diary-we-write/internal/diary"
)

// Memory はプロセス内にアカウントを保持する diary.Store です。開発とテスト用です。
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*diary.Account
	// 登録順を保つ
	order []string
}

// NewMemory は空の Memory を作成します。
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*diary.Account)}
}

func (m *Memory) CreateLocal(ctx context.Context, username, passwordHash string) (*diary.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(func(a *diary.Account) bool {
		local, ok := a.Identity.(diary.LocalIdentity)
		return ok && local.Username == username
	}) != nil {
		return nil, diary.ErrUsernameTaken
	}

	account := &diary.Account{
		ID:       uuid.NewString(),
		Identity: diary.LocalIdentity{Username: username, PasswordHash: passwordHash},
	}
	m.insertLocked(account)
	return cloneAccount(account), nil
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (*diary.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account := m.findLocked(func(a *diary.Account) bool {
		local, ok := a.Identity.(diary.LocalIdentity)
		return ok && local.Username == username
	})
	if account == nil {
		return nil, diary.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (m *Memory) FindByID(ctx context.Context, id string) (*diary.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, diary.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (m *Memory) FindOrCreateByProvider(ctx context.Context, provider diary.Provider, subject string) (*diary.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := diary.ProviderIdentity{Provider: provider, Subject: subject}
	if account := m.findLocked(func(a *diary.Account) bool {
		return a.Identity == identity
	}); account != nil {
		return cloneAccount(account), false, nil
	}

	account := &diary.Account{ID: uuid.NewString(), Identity: identity}
	m.insertLocked(account)
	return cloneAccount(account), true, nil
}

func (m *Memory) UpsertEntry(ctx context.Context, accountID string, entry diary.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return false, diary.ErrAccountNotFound
	}
	var replaced bool
	account.Diaries, replaced = diary.UpsertEntry(account.Diaries, entry)
	return replaced, nil
}

func (m *Memory) ListByDate(ctx context.Context, date string) ([]*diary.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []*diary.Account
	for _, id := range m.order {
		account := m.accounts[id]
		if _, ok := account.EntryFor(date); ok {
			found = append(found, cloneAccount(account))
		}
	}
	return found, nil
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}

func (m *Memory) findLocked(match func(*diary.Account) bool) *diary.Account {
	for _, id := range m.order {
		if account := m.accounts[id]; match(account) {
			return account
		}
	}
	return nil
}

func (m *Memory) insertLocked(account *diary.Account) {
	m.accounts[account.ID] = account
	m.order = append(m.order, account.ID)
}

func cloneAccount(a *diary.Account) *diary.Account {
	clone := *a
	clone.Diaries = append([]diary.Entry(nil), a.Diaries...)
	return &clone
}
