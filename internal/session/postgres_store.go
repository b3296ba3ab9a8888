package session

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists sessions and deposit bindings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) EnsureSession(ctx context.Context, device string) (*Session, error) {
	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (device_id, linked_address, pending_stake, escrow_address, created_at, updated_at)
		VALUES ($1, '', 0, '', $2, $2)
		ON CONFLICT (device_id) DO NOTHING`,
		device, now,
	)
	if err != nil {
		return nil, err
	}
	return p.GetSession(ctx, device)
}

func (p *PostgresStore) GetSession(ctx context.Context, device string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT device_id, linked_address, pending_stake, escrow_address, created_at, updated_at
		FROM sessions WHERE device_id = $1`, device)

	var s Session
	err := row.Scan(&s.DeviceID, &s.LinkedAddress, &s.PendingStake, &s.EscrowAddress, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) LinkAddress(ctx context.Context, device, address string) error {
	return p.exec(ctx, `
		UPDATE sessions SET linked_address = $1, pending_stake = 0, updated_at = $2
		WHERE device_id = $3`, address, time.Now(), device)
}

func (p *PostgresStore) SetPendingStake(ctx context.Context, device string, amount int64) error {
	return p.exec(ctx, `
		UPDATE sessions SET pending_stake = $1, updated_at = $2
		WHERE device_id = $3`, amount, time.Now(), device)
}

func (p *PostgresStore) ResetPendingStake(ctx context.Context, device string) error {
	return p.exec(ctx, `
		UPDATE sessions SET pending_stake = 0, updated_at = $1
		WHERE device_id = $2`, time.Now(), device)
}

func (p *PostgresStore) SetEscrowAddress(ctx context.Context, device, address string) error {
	return p.exec(ctx, `
		UPDATE sessions SET escrow_address = $1, updated_at = $2
		WHERE device_id = $3`, address, time.Now(), device)
}

func (p *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) BindDeposit(ctx context.Context, d *DepositAddress) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	// Re-binding by the same device refreshes the destination; an address
	// owned by another device is untouchable.
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO deposit_addresses (address, device_id, destination, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE
		SET destination = EXCLUDED.destination, kind = EXCLUDED.kind
		WHERE deposit_addresses.device_id = EXCLUDED.device_id`,
		d.Address, d.DeviceID, d.Destination, string(d.Kind), createdAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAddressTaken
	}
	return nil
}

func (p *PostgresStore) GetDeposit(ctx context.Context, address string) (*DepositAddress, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT address, device_id, destination, kind, created_at
		FROM deposit_addresses WHERE address = $1`, address)

	var d DepositAddress
	var kind string
	err := row.Scan(&d.Address, &d.DeviceID, &d.Destination, &kind, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Kind = DepositKind(kind)
	return &d, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
