package firestorecli

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

type Config struct {
	ProjectID string
}

func NewClient(ctx context.Context, cfg Config) (*firestore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("empty firestore project id")
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return client, nil
}
