package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/diary-we-write/internal/diary"
)

// entryList は日記の配列を jsonb カラムとして読み書きします。
type entryList []diary.Entry

func (l entryList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]diary.Entry(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *entryList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = entryList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported diaries column type %T", src)
	}
	var entries []diary.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	*l = entries
	return nil
}

// userRow は MongoDB と同じ1アカウント1行のレイアウトを保ちます。未使用のIDは NULL です。
type userRow struct {
	ID         string    `gorm:"type:text;primaryKey"`
	Username   *string   `gorm:"column:username;uniqueIndex"`
	Hash       string    `gorm:"column:hash"`
	GoogleID   *string   `gorm:"column:google_id;uniqueIndex"`
	FacebookID *string   `gorm:"column:facebook_id;uniqueIndex"`
	Diaries    entryList `gorm:"column:diaries;type:jsonb;not null;default:'[]'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userRow) TableName() string {
	return "users"
}

func (r *userRow) toAccount() *diary.Account {
	doc := userDocument{
		ID:      r.ID,
		Hash:    r.Hash,
		Diaries: r.Diaries,
	}
	if r.Username != nil {
		doc.Username = *r.Username
	}
	if r.GoogleID != nil {
		doc.GoogleID = *r.GoogleID
	}
	if r.FacebookID != nil {
		doc.FacebookID = *r.FacebookID
	}
	return doc.toAccount()
}

func providerColumn(provider diary.Provider) (string, error) {
	switch provider {
	case diary.ProviderGoogle:
		return "google_id", nil
	case diary.ProviderFacebook:
		return "facebook_id", nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", provider)
	}
}

// Postgres は GORM 経由で PostgreSQL にアカウントを保存する diary.Store です。
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres は接続プールを設定し、マイグレーションを実行します。
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database instance")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	if err := db.WithContext(ctx).AutoMigrate(&userRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to migrate users table")
	}
	if err := db.WithContext(ctx).Exec(
		"CREATE INDEX IF NOT EXISTS idx_users_diaries ON users USING GIN (diaries jsonb_path_ops)",
	).Error; err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "failed to create diaries index")
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) CreateLocal(ctx context.Context, username, passwordHash string) (*diary.Account, error) {
	row := &userRow{
		ID:       uuid.NewString(),
		Username: &username,
		Hash:     passwordHash,
		Diaries:  entryList{},
	}
	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, diary.ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "failed to insert local account")
	}
	return row.toAccount(), nil
}

func (p *Postgres) FindByUsername(ctx context.Context, username string) (*diary.Account, error) {
	return p.first(ctx, "username = ?", username)
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*diary.Account, error) {
	return p.first(ctx, "id = ?", id)
}

func (p *Postgres) first(ctx context.Context, query string, args ...any) (*diary.Account, error) {
	var row userRow
	if err := p.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, diary.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find account")
	}
	return row.toAccount(), nil
}

// FindOrCreateByProvider は INSERT ... ON CONFLICT DO NOTHING の後に読み直します。
func (p *Postgres) FindOrCreateByProvider(ctx context.Context, provider diary.Provider, subject string) (*diary.Account, bool, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, false, err
	}

	row := &userRow{ID: uuid.NewString(), Diaries: entryList{}}
	if provider == diary.ProviderGoogle {
		row.GoogleID = &subject
	} else {
		row.FacebookID = &subject
	}

	res := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: column}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, errors.Wrapf(res.Error, "failed to insert %s account", provider)
	}

	account, err := p.first(ctx, column+" = ?", subject)
	if err != nil {
		return nil, false, err
	}
	return account, res.RowsAffected == 1, nil
}

// UpsertEntry は行ロックを取ったトランザクション内で読み込み・更新・保存を行います。
func (p *Postgres) UpsertEntry(ctx context.Context, accountID string, entry diary.Entry) (bool, error) {
	var replaced bool
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", accountID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return diary.ErrAccountNotFound
			}
			return errors.Wrap(err, "failed to lock account")
		}

		var entries []diary.Entry
		entries, replaced = diary.UpsertEntry(row.Diaries, entry)
		if err := tx.Model(&row).Update("diaries", entryList(entries)).Error; err != nil {
			return errors.Wrap(err, "failed to save diaries")
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

func (p *Postgres) ListByDate(ctx context.Context, date string) ([]*diary.Account, error) {
	probe, err := json.Marshal([]map[string]string{{"date": date}})
	if err != nil {
		return nil, err
	}

	var rows []userRow
	if err := p.db.WithContext(ctx).
		Where("diaries @> ?::jsonb", string(probe)).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query diaries")
	}

	accounts := make([]*diary.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toAccount())
	}
	return accounts, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
