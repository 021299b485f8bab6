// Package diary は日記アカウントと「1日1件」の投稿ルールを提供します。
package diary

// Provider は外部認証プロバイダーの種別を表します。
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// Identity はアカウントの認証情報です。LocalIdentity か ProviderIdentity のどちらかです。
type Identity interface {
	identity()
}

// LocalIdentity はユーザー名とbcryptハッシュによるローカル認証情報です。
type LocalIdentity struct {
	Username     string
	PasswordHash string
}

func (LocalIdentity) identity() {}

// ProviderIdentity は外部プロバイダーが発行した利用者IDです。
type ProviderIdentity struct {
	Provider Provider
	Subject  string
}

func (ProviderIdentity) identity() {}

// Entry は1日分の日記です。Date は M/D/YYYY 形式です。
type Entry struct {
	Date string `json:"date" bson:"date"`
	Task string `json:"task" bson:"task"`
}

// Account は利用者1人分のドキュメントです。
type Account struct {
	ID       string
	Identity Identity
	Diaries  []Entry
}

// EntryFor は指定日の日記を返します。
func (a *Account) EntryFor(date string) (Entry, bool) {
	if a == nil {
		return Entry{}, false
	}
	for _, e := range a.Diaries {
		if e.Date == date {
			return e, true
		}
	}
	return Entry{}, false
}

// UpsertEntry は同じ日付の日記があれば内容を上書きし、なければ末尾に追加します。
// replaced は上書きだった場合に true になります。
func UpsertEntry(entries []Entry, entry Entry) (result []Entry, replaced bool) {
	for i := range entries {
		if entries[i].Date == entry.Date {
			entries[i].Task = entry.Task
			replaced = true
		}
	}
	if replaced {
		return entries, true
	}
	return append(entries, entry), false
}
