package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joseph-ayodele/infoburn/constants"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

const recordsCollection = "structured_records"

// MongoRecordStore keeps structured records in a document database. A unique
// index on case and schema version gives the same conflict guarantee as the
// SQL store.
type MongoRecordStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

type recordDoc struct {
	ID             string           `bson:"_id"`
	CaseID         string           `bson:"case_id"`
	Schema         entity.SchemaRef `bson:"schema"`
	AttemptID      string           `bson:"attempt_id,omitempty"`
	AttemptOrdinal int              `bson:"attempt_ordinal"`
	Source         string           `bson:"source"`
	CreatedAt      time.Time        `bson:"created_at"`
	// Data is the canonical JSON, stored verbatim.
	Data string `bson:"data"`
}

// OpenMongo connects, pings and ensures the unique index exists.
func OpenMongo(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*MongoRecordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", common.ErrDatabase, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: mongo ping: %v", common.ErrDatabase, err)
	}
	coll := client.Database(cfg.MongoDatabase).Collection(recordsCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "case_id", Value: 1}, {Key: "schema.name", Value: 1}, {Key: "schema.version", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("case_schema_unique"),
	})
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: mongo index: %v", common.ErrDatabase, err)
	}
	logger.Info("mongo record store ready", "database", cfg.MongoDatabase, "collection", recordsCollection)
	return &MongoRecordStore{client: client, coll: coll, logger: logger}, nil
}

func (s *MongoRecordStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoRecordStore) Put(ctx context.Context, rec entity.StructuredRecord, canonical []byte) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	doc := recordDoc{
		ID:             rec.ID.String(),
		CaseID:         rec.CaseID,
		Schema:         rec.Schema,
		AttemptOrdinal: rec.AttemptOrdinal,
		Source:         string(rec.Source),
		CreatedAt:      rec.CreatedAt.UTC(),
		Data:           string(canonical),
	}
	if rec.AttemptID != nil {
		doc.AttemptID = rec.AttemptID.String()
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Warn("record.conflict", "case_id", rec.CaseID, "schema", rec.Schema.String())
			return fmt.Errorf("%w: %s for case %s", common.ErrConflict, rec.Schema, rec.CaseID)
		}
		s.logger.Error("failed to store record", "case_id", rec.CaseID, "schema", rec.Schema.String(), "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	s.logger.Info("record.stored", "record_id", rec.ID, "case_id", rec.CaseID, "schema", rec.Schema.String(), "source", rec.Source)
	return nil
}

func mongoKey(caseID string, ref entity.SchemaRef) bson.D {
	return bson.D{{Key: "case_id", Value: caseID}, {Key: "schema.name", Value: ref.Name}, {Key: "schema.version", Value: ref.Version}}
}

func (s *MongoRecordStore) Get(ctx context.Context, caseID string, ref entity.SchemaRef) (entity.StructuredRecord, error) {
	var doc recordDoc
	if err := s.coll.FindOne(ctx, mongoKey(caseID, ref)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.StructuredRecord{}, fmt.Errorf("%w: %s for case %s", common.ErrNotFound, ref, caseID)
		}
		return entity.StructuredRecord{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return doc.entity()
}

func (s *MongoRecordStore) Exists(ctx context.Context, caseID string, ref entity.SchemaRef) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, mongoKey(caseID, ref), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return n > 0, nil
}

func (s *MongoRecordStore) List(ctx context.Context, caseID string) ([]entity.StructuredRecord, error) {
	filter := bson.D{}
	if caseID != "" {
		filter = bson.D{{Key: "case_id", Value: caseID}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "case_id", Value: 1}, {Key: "schema.name", Value: 1}, {Key: "schema.version", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	out := make([]entity.StructuredRecord, 0, len(docs))
	for _, d := range docs {
		rec, err := d.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d recordDoc) entity() (entity.StructuredRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return entity.StructuredRecord{}, fmt.Errorf("%w: record id %q: %v", common.ErrDatabase, d.ID, err)
	}
	rec := entity.StructuredRecord{
		ID:             id,
		CaseID:         d.CaseID,
		Schema:         d.Schema,
		AttemptOrdinal: d.AttemptOrdinal,
		Source:         constants.RecordSource(d.Source),
		CreatedAt:      d.CreatedAt.UTC(),
	}
	if d.AttemptID != "" {
		aid, err := uuid.Parse(d.AttemptID)
		if err != nil {
			return entity.StructuredRecord{}, fmt.Errorf("%w: record %s attempt id: %v", common.ErrDatabase, d.ID, err)
		}
		rec.AttemptID = &aid
	}
	if rec.Data, err = DecodeData([]byte(d.Data)); err != nil {
		return entity.StructuredRecord{}, fmt.Errorf("%w: record %s data: %v", common.ErrDatabase, d.ID, err)
	}
	return rec, nil
}
