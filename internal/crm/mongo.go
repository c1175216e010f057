package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/run-bigpig/bizassist/internal/models"
)

const (
	mongoConnectTimeout = 10 * time.Second
	leadCollection      = "leads"
)

// MongoStore 基于 MongoDB 的线索存储
type MongoStore struct {
	client *mongo.Client
	leads  *mongo.Collection
	now    func() time.Time
}

// OpenMongo 连接 MongoDB 并创建索引
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, unavailable("connect mongodb", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping mongodb", err)
	}

	s := &MongoStore{client: client, leads: client.Database(database).Collection(leadCollection), now: time.Now}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("create indexes", err)
	}
	log.Info("mongodb lead store ready: %s", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.leads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "meetingId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"meetingId": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "leadScore", Value: -1}, {Key: "createdAt", Value: -1}},
		},
	})
	return err
}

// Upsert 先按 meetingId 再按 email 查找，存在则整体替换
func (s *MongoStore) Upsert(ctx context.Context, rec *models.LeadRecord) (string, error) {
	in, err := prepare(rec)
	if err != nil {
		return "", err
	}

	var existing *models.LeadRecord
	if in.MeetingID != "" {
		if existing, err = s.findOne(ctx, bson.M{"meetingId": in.MeetingID}); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	if existing == nil {
		if existing, err = s.findOne(ctx, bson.M{"email": in.Email}); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	now := s.now().UTC()
	if existing != nil {
		updated := merge(*existing, in, now)
		if _, err := s.leads.ReplaceOne(ctx, bson.M{"_id": updated.ID}, updated); err != nil {
			return "", classifyMongo("replace lead", err)
		}
		return updated.ID, nil
	}

	in.ID = uuid.NewString()
	in.CreatedAt = now
	in.UpdatedAt = now
	if _, err := s.leads.InsertOne(ctx, in); err != nil {
		return "", classifyMongo("insert lead", err)
	}
	return in.ID, nil
}

// GetByEmail 按 email 查询
func (s *MongoStore) GetByEmail(ctx context.Context, email string) (*models.LeadRecord, error) {
	return s.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

// List 查询线索
func (s *MongoStore) List(ctx context.Context, opts ListOptions) ([]models.LeadRecord, error) {
	filter := bson.M{"leadScore": bson.M{"$gte": opts.MinScore}}
	if opts.Status != "" {
		filter["status"] = opts.Status
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "leadScore", Value: -1}, {Key: "createdAt", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.leads.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, unavailable("find leads", err)
	}
	defer cursor.Close(ctx)

	var out []models.LeadRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, unavailable("decode leads", err)
	}
	return out, nil
}

// Close 断开连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.LeadRecord, error) {
	var r models.LeadRecord
	err := s.leads.FindOne(ctx, filter).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find lead", err)
	}
	return &r, nil
}

func classifyMongo(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, op)
	}
	return unavailable(op, err)
}
