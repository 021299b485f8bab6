package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yourusername/diary-we-write/internal/diary"
)

const (
	usersCollection = "users"
	// 同日投稿が並行した場合の再試行回数
	maxUpsertAttempts = 3
)

// Mongo は MongoDB の users コレクションにアカウントを保存する diary.Store です。
type Mongo struct {
	client *mongo.Client
	users  *mongo.Collection
}

// OpenMongo は接続を確立し、疎通確認とインデックス作成を行います。
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongodb")
	}

	m := &Mongo{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	var models []mongo.IndexModel
	for _, field := range []string{"username", "googleId", "facebookId"} {
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: field, Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{field: bson.M{"$exists": true}}),
		})
	}
	models = append(models, mongo.IndexModel{Keys: bson.D{{Key: "diaries.date", Value: 1}}})

	if _, err := m.users.Indexes().CreateMany(ctx, models); err != nil {
		return errors.Wrap(err, "failed to create user indexes")
	}
	return nil
}

func (m *Mongo) CreateLocal(ctx context.Context, username, passwordHash string) (*diary.Account, error) {
	doc := &userDocument{
		ID:       uuid.NewString(),
		Username: username,
		Hash:     passwordHash,
		Diaries:  []diary.Entry{},
	}
	if _, err := m.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, diary.ErrUsernameTaken
		}
		return nil, errors.Wrap(err, "failed to insert local account")
	}
	return doc.toAccount(), nil
}

func (m *Mongo) FindByUsername(ctx context.Context, username string) (*diary.Account, error) {
	return m.findOne(ctx, bson.M{"username": username})
}

func (m *Mongo) FindByID(ctx context.Context, id string) (*diary.Account, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (*diary.Account, error) {
	var doc userDocument
	if err := m.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, diary.ErrAccountNotFound
		}
		return nil, errors.Wrap(err, "failed to find account")
	}
	return doc.toAccount(), nil
}

// FindOrCreateByProvider は $setOnInsert 付きの upsert で検索と作成を1回の操作にまとめます。
func (m *Mongo) FindOrCreateByProvider(ctx context.Context, provider diary.Provider, subject string) (*diary.Account, bool, error) {
	field, err := providerField(provider)
	if err != nil {
		return nil, false, err
	}

	filter := bson.M{field: subject}
	newID := uuid.NewString()
	update := bson.M{"$setOnInsert": bson.M{
		"_id":     newID,
		"diaries": bson.A{},
	}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc userDocument
	err = m.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// 並行した upsert に先を越された場合は、作成済みのドキュメントを読み直す
		account, findErr := m.findOne(ctx, filter)
		if findErr != nil {
			return nil, false, findErr
		}
		return account, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to upsert %s account", provider)
	}
	return doc.toAccount(), doc.ID == newID, nil
}

// UpsertEntry は既存日付への $set と新規日付への $push を条件付き更新で行います。
// どちらの条件もドキュメント単位で評価されるため、読み込みと保存の間に他の投稿が割り込むことはありません。
func (m *Mongo) UpsertEntry(ctx context.Context, accountID string, entry diary.Entry) (bool, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		res, err := m.users.UpdateOne(ctx,
			bson.M{"_id": accountID, "diaries.date": entry.Date},
			bson.M{"$set": bson.M{"diaries.$.task": entry.Task}},
		)
		if err != nil {
			return false, errors.Wrap(err, "failed to overwrite diary entry")
		}
		if res.MatchedCount > 0 {
			return true, nil
		}

		res, err = m.users.UpdateOne(ctx,
			bson.M{"_id": accountID, "diaries.date": bson.M{"$ne": entry.Date}},
			bson.M{"$push": bson.M{"diaries": entry}},
		)
		if err != nil {
			return false, errors.Wrap(err, "failed to append diary entry")
		}
		if res.MatchedCount > 0 {
			return false, nil
		}

		count, err := m.users.CountDocuments(ctx, bson.M{"_id": accountID})
		if err != nil {
			return false, errors.Wrap(err, "failed to count accounts")
		}
		if count == 0 {
			return false, diary.ErrAccountNotFound
		}
	}
	return false, errors.Errorf("diary entry for %s did not settle after %d attempts", entry.Date, maxUpsertAttempts)
}

func (m *Mongo) ListByDate(ctx context.Context, date string) ([]*diary.Account, error) {
	cur, err := m.users.Find(ctx, bson.M{"diaries.date": date})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query diaries")
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode diaries")
	}

	accounts := make([]*diary.Account, 0, len(docs))
	for i := range docs {
		accounts = append(accounts, docs[i].toAccount())
	}
	return accounts, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
