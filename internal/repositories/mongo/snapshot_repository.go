package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"networth-api/internal/models"
	"networth-api/internal/repositories"
)

// snapshotDocument is the stored shape of a PerformanceSnapshot. Dates are
// "YYYY-MM-DD" strings so lexical order is calendar order, and decimals are
// strings so values round-trip exactly.
type snapshotDocument struct {
	UserID       int64     `bson:"user_id"`
	Date         string    `bson:"date"`
	BaseCurrency string    `bson:"base_currency"`
	TotalPL      string    `bson:"total_pl"`
	InvestmentPL string    `bson:"investment_pl"`
	CurrencyPL   string    `bson:"currency_pl"`
	DailyPL      string    `bson:"daily_pl"`
	HasPrior     bool      `bson:"has_prior"`
	Degraded     bool      `bson:"degraded"`
	ComputedAt   time.Time `bson:"computed_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toDocument(s *models.PerformanceSnapshot) *snapshotDocument {
	return &snapshotDocument{
		UserID:       s.UserID,
		Date:         models.FormatDate(s.Date),
		BaseCurrency: s.BaseCurrency,
		TotalPL:      s.TotalPL.String(),
		InvestmentPL: s.InvestmentPL.String(),
		CurrencyPL:   s.CurrencyPL.String(),
		DailyPL:      s.DailyPL.String(),
		HasPrior:     s.HasPrior,
		Degraded:     s.Degraded,
		ComputedAt:   s.ComputedAt.UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func (d *snapshotDocument) toModel() (*models.PerformanceSnapshot, error) {
	day, err := models.ParseDate(d.Date)
	if err != nil {
		return nil, err
	}

	var figures [4]decimal.Decimal
	for i, raw := range []string{d.TotalPL, d.InvestmentPL, d.CurrencyPL, d.DailyPL} {
		if figures[i], err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("corrupt snapshot %d/%s: %w", d.UserID, d.Date, err)
		}
	}

	return &models.PerformanceSnapshot{
		UserID:       d.UserID,
		Date:         day,
		BaseCurrency: d.BaseCurrency,
		TotalPL:      figures[0],
		InvestmentPL: figures[1],
		CurrencyPL:   figures[2],
		DailyPL:      figures[3],
		HasPrior:     d.HasPrior,
		Degraded:     d.Degraded,
		ComputedAt:   d.ComputedAt,
	}, nil
}

// MongoSnapshotRepository implements SnapshotRepository using MongoDB
type MongoSnapshotRepository struct {
	collection *mongo.Collection
}

var _ repositories.SnapshotRepository = (*MongoSnapshotRepository)(nil)

// NewSnapshotRepository creates a new MongoDB snapshot repository
func NewSnapshotRepository(collection *mongo.Collection) *MongoSnapshotRepository {
	return &MongoSnapshotRepository{collection: collection}
}

// Upsert replaces the user's row for the snapshot date
func (r *MongoSnapshotRepository) Upsert(ctx context.Context, snapshot *models.PerformanceSnapshot) error {
	doc := toDocument(snapshot)
	filter := bson.M{"user_id": doc.UserID, "date": doc.Date}

	_, err := r.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *MongoSnapshotRepository) Get(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	filter := bson.M{"user_id": userID, "date": models.FormatDate(day)}
	return r.findOne(ctx, filter, nil)
}

func (r *MongoSnapshotRepository) LatestBefore(ctx context.Context, userID int64, day time.Time) (*models.PerformanceSnapshot, error) {
	filter := bson.M{
		"user_id": userID,
		"date":    bson.M{"$lt": models.FormatDate(day)},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}})
	return r.findOne(ctx, filter, opts)
}

func (r *MongoSnapshotRepository) ListRange(ctx context.Context, userID int64, from, to time.Time) ([]models.PerformanceSnapshot, error) {
	filter := bson.M{
		"user_id": userID,
		"date": bson.M{
			"$gte": models.FormatDate(from),
			"$lte": models.FormatDate(to),
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots by date range: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []snapshotDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}

	snapshots := make([]models.PerformanceSnapshot, 0, len(docs))
	for i := range docs {
		s, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, nil
}

func (r *MongoSnapshotRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.PerformanceSnapshot, error) {
	var doc snapshotDocument
	var err error
	if opts != nil {
		err = r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.collection.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return doc.toModel()
}
