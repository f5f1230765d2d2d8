package postgres

import (
	"context"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
)

// RiderLocationRepo implements ports.RiderLocationRepository.
type RiderLocationRepo struct {
	db *DB
}

func NewRiderLocationRepo(db *DB) *RiderLocationRepo {
	return &RiderLocationRepo{db: db}
}

func (r *RiderLocationRepo) Insert(ctx context.Context, rec *domain.RiderLocationRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rider_locations (time, rider_id, location, heading, speed, status)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5, $6, $7)
	`, rec.Time, rec.RiderID, rec.Location.Lon, rec.Location.Lat, rec.Heading, rec.Speed, string(rec.Status))
	return err
}

func (r *RiderLocationRepo) History(ctx context.Context, riderID string, since time.Time, limit int) ([]domain.RiderLocationRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT time, rider_id,
			ST_Y(location::geometry) AS lat,
			ST_X(location::geometry) AS lon,
			heading, speed, status
		FROM rider_locations
		WHERE rider_id = $1 AND time >= $2
		ORDER BY time DESC
		LIMIT $3
	`, riderID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.RiderLocationRecord
	for rows.Next() {
		var rec domain.RiderLocationRecord
		var status string
		if err := rows.Scan(&rec.Time, &rec.RiderID, &rec.Location.Lat, &rec.Location.Lon,
			&rec.Heading, &rec.Speed, &status); err != nil {
			return nil, err
		}
		rec.Status = domain.RiderStatus(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
