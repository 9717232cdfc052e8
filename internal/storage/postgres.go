package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Postgres error codes the repository reacts to
const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

const (
	parentColumns = "id, kind, owner_id, resolved_bid_id, created_at, updated_at"
	bidColumns    = "id, parent_resource_id, bidder_id, amount::text, description, status, created_at, updated_at"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository implements Repository using PostgreSQL.
// The per-parent lock is a row lock on parent_resources.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	lockRetries int
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
	LockTimeout  time.Duration
	LockRetries  int
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	poolConfig.MinConns = 5
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool:        pool,
		lockTimeout: cfg.LockTimeout,
		lockRetries: cfg.LockRetries,
	}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateParent inserts a new parent resource
func (r *PostgresRepository) CreateParent(ctx context.Context, p *models.ParentResource) error {
	query := `
		INSERT INTO parent_resources (id, kind, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, p.ID, string(p.Kind), p.OwnerID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("parent %s: %w", p.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create parent: %w", err)
	}
	return nil
}

// GetParent retrieves a parent resource with its bid IDs
func (r *PostgresRepository) GetParent(ctx context.Context, id string) (*models.ParentResource, error) {
	p, err := scanParent(r.pool.QueryRow(ctx, "SELECT "+parentColumns+" FROM parent_resources WHERE id = $1", id))
	if err != nil {
		return nil, err
	}
	if err := loadBidIDs(ctx, r.pool, []*models.ParentResource{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// ListParents returns parent resources matching filters, oldest first
func (r *PostgresRepository) ListParents(ctx context.Context, filters models.ParentFilters) ([]*models.ParentResource, error) {
	q := psql.Select(parentColumns).From("parent_resources").OrderBy("created_at", "id")
	if filters.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(filters.Kind)})
	}
	if filters.OwnerID != "" {
		q = q.Where(sq.Eq{"owner_id": filters.OwnerID})
	}
	if filters.Limit > 0 {
		q = q.Limit(uint64(filters.Limit))
	}
	if filters.Offset > 0 {
		q = q.Offset(uint64(filters.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list parents: %w", err)
	}
	defer rows.Close()

	parents := []*models.ParentResource{}
	for rows.Next() {
		p, err := scanParent(rows)
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parents: %w", err)
	}

	if err := loadBidIDs(ctx, r.pool, parents); err != nil {
		return nil, err
	}
	return parents, nil
}

// GetBid retrieves a bid by ID
func (r *PostgresRepository) GetBid(ctx context.Context, id string) (*models.BidRecord, error) {
	return scanBid(r.pool.QueryRow(ctx, "SELECT "+bidColumns+" FROM bid_records WHERE id = $1", id))
}

// Snapshot reads a parent and its bids inside one repeatable-read transaction
func (r *PostgresRepository) Snapshot(ctx context.Context, parentID string) (*models.ParentResource, []*models.BidRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	parent, err := scanParent(tx.QueryRow(ctx, "SELECT "+parentColumns+" FROM parent_resources WHERE id = $1", parentID))
	if err != nil {
		return nil, nil, err
	}
	bids, err := queryBids(ctx, tx, parentID)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range bids {
		parent.BidIDs = append(parent.BidIDs, b.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return parent, bids, nil
}

// WithParentLock runs fn in a transaction holding FOR UPDATE on the parent row.
// Lock contention is retried with exponential backoff; lockTimeout bounds all attempts together.
func (r *PostgresRepository) WithParentLock(ctx context.Context, parentID string, fn func(tx Tx) error) error {
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	backoff := retry.WithMaxRetries(uint64(max(r.lockRetries, 0)), retry.NewExponential(25*time.Millisecond))
	backoff = retry.WithCappedDuration(time.Second, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.lockedTx(ctx, parentID, fn)
		if isContention(err) {
			slog.Debug("parent lock contended, retrying",
				"parent_id", parentID,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})

	if isContention(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("parent %s: %w", parentID, ErrLockTimeout)
	}
	return err
}

// remainingLockBudget is the lock_timeout for one attempt: whatever is left of ctx's deadline
func remainingLockBudget(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return max(time.Until(deadline), time.Millisecond), true
}

func (r *PostgresRepository) lockedTx(ctx context.Context, parentID string, fn func(tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if budget, ok := remainingLockBudget(ctx); ok {
		// SET does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", budget.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	parent, err := scanParent(tx.QueryRow(ctx,
		"SELECT "+parentColumns+" FROM parent_resources WHERE id = $1 FOR UPDATE", parentID))
	if err != nil {
		return err
	}
	if err := loadBidIDs(ctx, tx, []*models.ParentResource{parent}); err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: tx, parent: parent}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// postgresTx is the Tx handed to WithParentLock callbacks
type postgresTx struct {
	tx     pgx.Tx
	parent *models.ParentResource
}

func (t *postgresTx) Parent() *models.ParentResource {
	return t.parent.Clone()
}

func (t *postgresTx) Bids(ctx context.Context) ([]*models.BidRecord, error) {
	return queryBids(ctx, t.tx, t.parent.ID)
}

func (t *postgresTx) Bid(ctx context.Context, id string) (*models.BidRecord, error) {
	return scanBid(t.tx.QueryRow(ctx,
		"SELECT "+bidColumns+" FROM bid_records WHERE id = $1 AND parent_resource_id = $2", id, t.parent.ID))
}

func (t *postgresTx) InsertBid(ctx context.Context, b *models.BidRecord) error {
	query := `
		INSERT INTO bid_records (id, parent_resource_id, bidder_id, amount, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		b.ID,
		t.parent.ID,
		b.BidderID,
		b.Amount.String(),
		b.Description,
		string(b.Status),
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("bid %s: %w", b.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	t.parent.BidIDs = append(t.parent.BidIDs, b.ID)
	return nil
}

func (t *postgresTx) UpdateBidStatus(ctx context.Context, id string, status models.BidStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE bid_records SET status = $3, updated_at = $4 WHERE id = $1 AND parent_resource_id = $2",
		id, t.parent.ID, string(status), at)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("failed to update bid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBidNotFound
	}
	return nil
}

func (t *postgresTx) ResolveParent(ctx context.Context, bidID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE parent_resources SET resolved_bid_id = $2, updated_at = $3 WHERE id = $1 AND resolved_bid_id IS NULL",
		t.parent.ID, bidID, at)
	if err != nil {
		return fmt.Errorf("failed to resolve parent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	id := bidID
	t.parent.ResolvedBidID = &id
	t.parent.UpdatedAt = at
	return nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBids(ctx context.Context, q querier, parentID string) ([]*models.BidRecord, error) {
	query, args, err := psql.Select(bidColumns).
		From("bid_records").
		Where(sq.Eq{"parent_resource_id": parentID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := []*models.BidRecord{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return bids, nil
}

func loadBidIDs(ctx context.Context, q querier, parents []*models.ParentResource) error {
	if len(parents) == 0 {
		return nil
	}
	byID := make(map[string]*models.ParentResource, len(parents))
	ids := make([]string, 0, len(parents))
	for _, p := range parents {
		p.BidIDs = []string{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query, args, err := psql.Select("parent_resource_id", "id").
		From("bid_records").
		Where(sq.Eq{"parent_resource_id": ids}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query bid ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var parentID, bidID string
		if err := rows.Scan(&parentID, &bidID); err != nil {
			return fmt.Errorf("failed to scan bid id: %w", err)
		}
		if p, ok := byID[parentID]; ok {
			p.BidIDs = append(p.BidIDs, bidID)
		}
	}
	return rows.Err()
}

func scanParent(row pgx.Row) (*models.ParentResource, error) {
	var p models.ParentResource
	var kind string
	err := row.Scan(&p.ID, &kind, &p.OwnerID, &p.ResolvedBidID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParentNotFound
		}
		return nil, fmt.Errorf("failed to scan parent: %w", err)
	}
	p.Kind = models.ResourceKind(kind)
	p.BidIDs = []string{}
	return &p, nil
}

func scanBid(row pgx.Row) (*models.BidRecord, error) {
	var b models.BidRecord
	var amount, status string
	err := row.Scan(&b.ID, &b.ParentResourceID, &b.BidderID, &amount, &b.Description, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to scan bid: %w", err)
	}
	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	b.Status = models.BidStatus(status)
	return &b, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isContention(err error) bool {
	switch pgCode(err) {
	case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}
