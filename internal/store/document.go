package store

import (
	"fmt"

	"github.com/yourusername/diary-we-write/internal/diary"
)

// userDocument は users コレクションに保存する1件分のレコードです。
// ローカル認証・外部認証のどちらのアカウントも同じ形で保存し、使わない項目は省略します。
type userDocument struct {
	ID         string        `bson:"_id"`
	Username   string        `bson:"username,omitempty"`
	Hash       string        `bson:"hash,omitempty"`
	GoogleID   string        `bson:"googleId,omitempty"`
	FacebookID string        `bson:"facebookId,omitempty"`
	Diaries    []diary.Entry `bson:"diaries"`
}

// providerField はプロバイダーIDを保存するフィールド名を返します。
func providerField(provider diary.Provider) (string, error) {
	switch provider {
	case diary.ProviderGoogle:
		return "googleId", nil
	case diary.ProviderFacebook:
		return "facebookId", nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", provider)
	}
}

func (d *userDocument) toAccount() *diary.Account {
	account := &diary.Account{
		ID:      d.ID,
		Diaries: append([]diary.Entry(nil), d.Diaries...),
	}
	switch {
	case d.Username != "":
		account.Identity = diary.LocalIdentity{Username: d.Username, PasswordHash: d.Hash}
	case d.GoogleID != "":
		account.Identity = diary.ProviderIdentity{Provider: diary.ProviderGoogle, Subject: d.GoogleID}
	case d.FacebookID != "":
		account.Identity = diary.ProviderIdentity{Provider: diary.ProviderFacebook, Subject: d.FacebookID}
	}
	return account
}

func documentFromAccount(a *diary.Account) *userDocument {
	doc := &userDocument{
		ID:      a.ID,
		Diaries: append([]diary.Entry{}, a.Diaries...),
	}
	switch id := a.Identity.(type) {
	case diary.LocalIdentity:
		doc.Username = id.Username
		doc.Hash = id.PasswordHash
	case diary.ProviderIdentity:
		switch id.Provider {
		case diary.ProviderGoogle:
			doc.GoogleID = id.Subject
		case diary.ProviderFacebook:
			doc.FacebookID = id.Subject
		}
	}
	return doc
}
