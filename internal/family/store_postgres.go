package family

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// PostgresStore persists networks as one row per patient with the member
// list in a JSONB column, matching the whole-document update model.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, ownerUID domain.UserID) (*Network, error) {
	var (
		network Network
		userUID string
		members []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_uid, user_email, members, created_at, updated_at
		FROM family_networks WHERE user_uid = $1`,
		ownerUID.String(),
	).Scan(&userUID, &network.UserEmail, &members, &network.CreatedAt, &network.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find family network: %w", err)
	}
	network.UserUID = domain.UserID(userUID)
	if err := json.Unmarshal(members, &network.Members); err != nil {
		return nil, fmt.Errorf("decode family members: %w", err)
	}
	return &network, nil
}

func (s *PostgresStore) Save(ctx context.Context, network *Network) error {
	members, err := json.Marshal(network.Members)
	if err != nil {
		return fmt.Errorf("encode family members: %w", err)
	}
	if network.Members == nil {
		members = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO family_networks (user_uid, user_email, members, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_uid) DO UPDATE
		SET user_email = EXCLUDED.user_email,
		    members    = EXCLUDED.members,
		    updated_at = EXCLUDED.updated_at`,
		network.UserUID.String(), network.UserEmail, members,
		network.CreatedAt, network.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save family network: %w", err)
	}
	return nil
}
