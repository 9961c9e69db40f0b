package repository

import (
	"context"

	"github.com/google/uuid"

	"remindd/internal/database"
	"remindd/internal/models"
)

type EndpointRepository struct {
	db *database.DB
}

func NewEndpointRepository(db *database.DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

// Register upserts by (owner, device): re-registering a device replaces its
// token and platform.
func (repo *EndpointRepository) Register(ctx context.Context, endpoint *models.Endpoint) error {
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	return repo.db.Pool.QueryRow(ctx,
		`INSERT INTO push_endpoints (id, owner_id, device_id, token, platform)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, device_id)
		 DO UPDATE SET token = EXCLUDED.token, platform = EXCLUDED.platform, updated_at = CURRENT_TIMESTAMP
		 RETURNING id, created_at, updated_at`,
		endpoint.ID, endpoint.OwnerID, endpoint.DeviceID, endpoint.Token, endpoint.Platform,
	).Scan(&endpoint.ID, &endpoint.CreatedAt, &endpoint.UpdatedAt)
}

func (repo *EndpointRepository) Remove(ctx context.Context, ownerID, deviceID string) (int64, error) {
	tag, err := repo.db.Pool.Exec(ctx,
		`DELETE FROM push_endpoints WHERE owner_id = $1 AND device_id = $2`,
		ownerID, deviceID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (repo *EndpointRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Endpoint, error) {
	rows, err := repo.db.Pool.Query(ctx,
		`SELECT id, owner_id, device_id, token, platform, created_at, updated_at
		 FROM push_endpoints WHERE owner_id = $1 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*models.Endpoint
	for rows.Next() {
		e := &models.Endpoint{}
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.DeviceID, &e.Token, &e.Platform, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}
