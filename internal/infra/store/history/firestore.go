package history

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/you-humble/docconv/internal/domain"
)

type firestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *firestoreStore {
	if collection == "" {
		collection = "conversions"
	}
	return &firestoreStore{client: client, collection: collection}
}

func (s *firestoreStore) Ping(ctx context.Context) error {
	if _, err := s.client.Collection(s.collection).Limit(1).Documents(ctx).GetAll(); err != nil {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (s *firestoreStore) Save(ctx context.Context, rec domain.ConversionRecord) (domain.ConversionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if _, err := s.client.Collection(s.collection).Doc(rec.ID).Create(ctx, rec); err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("firestore create: %w", err)
	}
	return rec, nil
}

func (s *firestoreStore) List(ctx context.Context) ([]domain.ConversionRecord, error) {
	snaps, err := s.client.Collection(s.collection).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore list: %w", err)
	}

	records := make([]domain.ConversionRecord, 0, len(snaps))
	for _, snap := range snaps {
		var rec domain.ConversionRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("firestore decode %s: %w", snap.Ref.ID, err)
		}
		rec.ID = snap.Ref.ID
		records = append(records, rec)
	}

	return records, nil
}

func (s *firestoreStore) Delete(ctx context.Context, id string) (domain.ConversionRecord, error) {
	doc := s.client.Collection(s.collection).Doc(id)

	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ConversionRecord{}, domain.ErrRecordNotFound
		}
		return domain.ConversionRecord{}, fmt.Errorf("firestore get: %w", err)
	}

	var rec domain.ConversionRecord
	if err := snap.DataTo(&rec); err != nil {
		return domain.ConversionRecord{}, fmt.Errorf("firestore decode %s: %w", id, err)
	}
	rec.ID = id

	if _, err := doc.Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ConversionRecord{}, domain.ErrRecordNotFound
		}
		return domain.ConversionRecord{}, fmt.Errorf("firestore delete: %w", err)
	}

	return rec, nil
}
