package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/earntube/earntube-system/internal/model"
)

const (
	mongoDatabase   = "earntube"
	mongoCollection = "accounts"

	pingBackoff = 250 * time.Millisecond
)

// mongoStore — сетевой бэкенд хранения поверх MongoDB.
// Идентификаторы записей — hex-представление ObjectID.
type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// dialMongo устанавливает соединение с MongoDB в пределах переданного
// контекста: пинг повторяется с постоянной задержкой, пока не истечёт
// таймаут подключения. После успешного пинга создаются уникальные индексы
// по username и email.
func dialMongo(ctx context.Context, uri string) (*mongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	backoff := retry.NewConstant(pingBackoff)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}

	coll := client.Database(mongoDatabase).Collection(mongoCollection)

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &mongoStore{client: client, coll: coll}, nil
}

// Close разрывает соединение с базой.
func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindOne возвращает первый аккаунт, удовлетворяющий предикату.
func (s *mongoStore) FindOne(ctx context.Context, q Query) (*model.Account, error) {
	var acc model.Account
	err := s.coll.FindOne(ctx, q.bson()).Decode(&acc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find one: %w", err)
	}
	return &acc, nil
}

// FindByID возвращает аккаунт по идентификатору. Неверно сформированный
// ObjectID считается промахом, а не ошибкой.
func (s *mongoStore) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, nil
	}
	return s.FindOne(ctx, Query{"_id": id})
}

// Find возвращает все аккаунты, удовлетворяющие предикату.
func (s *mongoStore) Find(ctx context.Context, q Query) ([]model.Account, error) {
	cur, err := s.coll.Find(ctx, q.bson())
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cur.Close(ctx)

	var res []model.Account
	if err := cur.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return res, nil
}

// Create сохраняет новый аккаунт, наложив поля на шаблон по умолчанию.
// Нарушение уникальности username или email даёт ErrDuplicateKey.
func (s *mongoStore) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	acc = withDefaults(acc)
	if acc.ID == "" {
		acc.ID = primitive.NewObjectID().Hex()
	}

	if _, err := s.coll.InsertOne(ctx, acc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	return &acc, nil
}

// UpdateByID применяет патч атомарно средствами базы и возвращает документ
// после обновления. Промах по идентификатору — (nil, nil).
func (s *mongoStore) UpdateByID(ctx context.Context, id string, u Update) (*model.Account, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, nil
	}

	updateDoc := bson.M{}
	if len(u.Set) > 0 {
		updateDoc["$set"] = bson.M(u.Set)
	}
	if len(u.Inc) > 0 {
		inc := bson.M{}
		for k, v := range u.Inc {
			inc[k] = v
		}
		updateDoc["$inc"] = inc
	}
	if len(updateDoc) == 0 {
		return s.FindByID(ctx, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var acc model.Account
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, updateDoc, opts).Decode(&acc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("update account: %w", err)
	}

	return &acc, nil
}

// bson переводит предикат в фильтр MongoDB.
func (q Query) bson() bson.M {
	filter := bson.M{}
	for key, v := range q {
		if ne, ok := v.(NotEqual); ok {
			filter[key] = bson.M{"$ne": ne.Value}
			continue
		}
		filter[key] = v
	}
	return filter
}
