package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"shopline/queue-service/internal/models"
	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool             *pgxpool.Pool
	allowDirectServe bool
}

type Options struct {
	// AllowDirectServe legalizes completing an in_queue entry without an
	// intervening pick. Off by default; the queue then moves strictly
	// in_queue -> picked -> served.
	AllowDirectServe bool
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	return &Store{
		pool:             pool,
		allowDirectServe: options.AllowDirectServe,
	}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers can
// run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const activeEntryStates = "('in_queue','picked')"

func (s *Store) JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var role string
	var customerActive bool
	row := tx.QueryRow(ctx, `
		SELECT role, active
		FROM customers
		WHERE customer_id = $1
	`, input.CustomerID)
	if err = row.Scan(&role, &customerActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCustomerNotFound
		}
		return models.QueueEntry{}, err
	}
	if !customerActive {
		err = store.ErrCustomerNotFound
		return models.QueueEntry{}, err
	}
	if role != models.RoleCustomer {
		err = store.ErrNotCustomer
		return models.QueueEntry{}, err
	}

	var isOpen bool
	var shopName string
	row = tx.QueryRow(ctx, `
		SELECT name, is_open
		FROM shops
		WHERE shop_id = $1 AND active
	`, input.ShopID)
	if err = row.Scan(&shopName, &isOpen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrShopNotFound
		}
		return models.QueueEntry{}, err
	}
	if !isOpen {
		err = store.ErrShopClosed
		return models.QueueEntry{}, err
	}

	var existingID string
	row = tx.QueryRow(ctx, `
		SELECT entry_id
		FROM queue_entries
		WHERE shop_id = $1 AND customer_id = $2 AND active AND state IN `+activeEntryStates+`
	`, input.ShopID, input.CustomerID)
	if err = row.Scan(&existingID); err == nil {
		err = store.ErrDuplicateEntry
		return models.QueueEntry{}, err
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, err
	}
	err = nil

	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	entry := models.QueueEntry{
		EntryID:    uuid.NewString(),
		ShopID:     input.ShopID,
		CustomerID: input.CustomerID,
		Active:     true,
	}
	// The partial unique index on (shop_id, customer_id) closes the
	// check-then-act race between two concurrent joins.
	row = tx.QueryRow(ctx, `
		INSERT INTO queue_entries (entry_id, shop_id, customer_id, state, joined_at, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $5)
		ON CONFLICT (shop_id, customer_id) WHERE active AND state IN `+activeEntryStates+` DO NOTHING
		RETURNING state, joined_at, join_seq
	`, entry.EntryID, input.ShopID, input.CustomerID, models.StateInQueue, joinedAt)
	if err = row.Scan(&entry.State, &entry.JoinedAt, &entry.JoinSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrDuplicateEntry
		}
		return models.QueueEntry{}, err
	}

	var ahead int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE shop_id = $1 AND state = $2 AND active
			AND (joined_at, join_seq) < ($3, $4)
	`, input.ShopID, models.StateInQueue, entry.JoinedAt, entry.JoinSeq)
	if err = row.Scan(&ahead); err != nil {
		return models.QueueEntry{}, err
	}
	entry.Position = ahead + 1

	if err = insertOutboxEvent(ctx, tx, input.ShopID, store.EventQueueJoined, map[string]interface{}{
		"entry_id":    entry.EntryID,
		"shop_id":     entry.ShopID,
		"shop_name":   shopName,
		"customer_id": entry.CustomerID,
		"state":       entry.State,
		"joined_at":   entry.JoinedAt,
		"position":    entry.Position,
	}); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetQueueStatus(ctx context.Context, shopID, customerID string) (models.QueueStatus, error) {
	entries, err := listOrderedEntries(ctx, s.pool, shopID, models.StateInQueue)
	if err != nil {
		return models.QueueStatus{}, err
	}

	index := -1
	for i, entry := range entries {
		if entry.CustomerID == customerID {
			index = i
			break
		}
	}
	if index < 0 {
		return models.QueueStatus{}, store.ErrNotInQueue
	}

	entry := entries[index]
	entry.Position = index + 1
	return models.QueueStatus{
		Position:     index + 1,
		PeopleAhead:  index,
		TotalInQueue: len(entries),
		Entry:        entry,
	}, nil
}

func (s *Store) ListQueueByState(ctx context.Context, input store.ListQueueInput) ([]models.QueueEntryDetail, store.Pagination, error) {
	page := input.Page
	if page <= 0 {
		page = 1
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx, `
		SELECT e.entry_id, e.shop_id, e.customer_id, e.state, e.joined_at, e.join_seq, e.served_at, e.active,
			c.first_name, c.last_name, c.phone, c.guest
		FROM queue_entries e
		JOIN customers c ON c.customer_id = e.customer_id
		WHERE e.shop_id = $1 AND e.state = $2 AND e.active
		ORDER BY e.joined_at ASC, e.join_seq ASC
		LIMIT $3 OFFSET $4
	`, input.ShopID, input.State, limit, offset)
	if err != nil {
		return nil, store.Pagination{}, err
	}
	defer rows.Close()

	var details []models.QueueEntryDetail
	for rows.Next() {
		var detail models.QueueEntryDetail
		var servedAtNull sql.NullTime
		var firstNull, lastNull, phoneNull sql.NullString
		if err := rows.Scan(
			&detail.EntryID, &detail.ShopID, &detail.CustomerID, &detail.State,
			&detail.JoinedAt, &detail.JoinSeq, &servedAtNull, &detail.Active,
			&firstNull, &lastNull, &phoneNull, &detail.Customer.Guest,
		); err != nil {
			return nil, store.Pagination{}, err
		}
		detail.ServedAt = nullTimePtr(servedAtNull)
		detail.Customer.CustomerID = detail.CustomerID
		detail.Customer.FirstName = firstNull.String
		detail.Customer.LastName = lastNull.String
		detail.Customer.Phone = phoneNull.String
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Pagination{}, err
	}

	var total int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE shop_id = $1 AND state = $2 AND active
	`, input.ShopID, input.State)
	if err := row.Scan(&total); err != nil {
		return nil, store.Pagination{}, err
	}

	return details, store.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (s *Store) UpdateState(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	if !store.KnownState(input.TargetState) || len(store.PriorStates(input.TargetState, s.allowDirectServe)) == 0 {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	entry, err := s.transitionEntry(ctx, tx, input.EntryID, input.TargetState, occurredAt)
	if err != nil {
		return models.QueueEntry{}, err
	}

	eventType := store.EventQueuePicked
	if input.TargetState == models.StateServed {
		eventType = store.EventQueueServed
	}
	if err = insertOutboxEvent(ctx, tx, entry.ShopID, eventType, entryPayload(entry)); err != nil {
		return models.QueueEntry{}, err
	}

	// Picking a customer frees the chair next: write the next-in-line
	// intent in the same transaction so delivery can never observe an
	// uncommitted pick.
	if input.TargetState == models.StatePicked {
		if err = s.queueNextInLineIntent(ctx, tx, entry.ShopID); err != nil {
			return models.QueueEntry{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) CancelEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entry models.QueueEntry
	var servedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET active = FALSE
		WHERE entry_id = $1 AND active AND state = $2
		RETURNING entry_id, shop_id, customer_id, state, joined_at, join_seq, served_at, active
	`, entryID, models.StateInQueue)
	if err = row.Scan(&entry.EntryID, &entry.ShopID, &entry.CustomerID, &entry.State,
		&entry.JoinedAt, &entry.JoinSeq, &servedAtNull, &entry.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err = loadEntryState(ctx, tx, entryID); err != nil {
				return models.QueueEntry{}, err
			}
			err = store.ErrInvalidTransition
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, err
	}
	entry.ServedAt = nullTimePtr(servedAtNull)

	if err = insertOutboxEvent(ctx, tx, entry.ShopID, store.EventQueueCancelled, entryPayload(entry)); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// transitionEntry applies the CAS state update: it succeeds only if the
// entry's current state is a legal predecessor of target. After a miss it
// reloads the row to tell NotFound, a lost race, and an illegal jump apart.
func (s *Store) transitionEntry(ctx context.Context, tx pgx.Tx, entryID, target string, occurredAt time.Time) (models.QueueEntry, error) {
	prior := store.PriorStates(target, s.allowDirectServe)

	query := `
		UPDATE queue_entries
		SET state = $1
	`
	args := []interface{}{target}
	if target == models.StateServed {
		query += `, served_at = $2
		WHERE entry_id = $3 AND active AND state = ANY($4)`
		args = append(args, occurredAt, entryID, prior)
	} else {
		query += `
		WHERE entry_id = $2 AND active AND state = ANY($3)`
		args = append(args, entryID, prior)
	}
	query += `
		RETURNING entry_id, shop_id, customer_id, state, joined_at, join_seq, served_at, active`

	var entry models.QueueEntry
	var servedAtNull sql.NullTime
	row := tx.QueryRow(ctx, query, args...)
	if err := row.Scan(&entry.EntryID, &entry.ShopID, &entry.CustomerID, &entry.State,
		&entry.JoinedAt, &entry.JoinSeq, &servedAtNull, &entry.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			state, loadErr := loadEntryState(ctx, tx, entryID)
			if loadErr != nil {
				return models.QueueEntry{}, loadErr
			}
			if state == target {
				return models.QueueEntry{}, store.ErrConflict
			}
			return models.QueueEntry{}, store.ErrInvalidTransition
		}
		return models.QueueEntry{}, err
	}
	entry.ServedAt = nullTimePtr(servedAtNull)
	return entry, nil
}

func (s *Store) queueNextInLineIntent(ctx context.Context, tx pgx.Tx, shopID string) error {
	var customerID, entryID, shopName string
	row := tx.QueryRow(ctx, `
		SELECT e.entry_id, e.customer_id, s.name
		FROM queue_entries e
		JOIN shops s ON s.shop_id = e.shop_id
		WHERE e.shop_id = $1 AND e.state = $2 AND e.active
		ORDER BY e.joined_at ASC, e.join_seq ASC
		LIMIT 1
	`, shopID, models.StateInQueue)
	if err := row.Scan(&entryID, &customerID, &shopName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	return insertOutboxEvent(ctx, tx, shopID, store.EventNextInLine, map[string]interface{}{
		"entry_id":    entryID,
		"customer_id": customerID,
		"shop_id":     shopID,
		"shop_name":   shopName,
		"reason":      "next-in-line",
	})
}

func listOrderedEntries(ctx context.Context, q querier, shopID, state string) ([]models.QueueEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT entry_id, shop_id, customer_id, state, joined_at, join_seq, served_at, active
		FROM queue_entries
		WHERE shop_id = $1 AND state = $2 AND active
		ORDER BY joined_at ASC, join_seq ASC
	`, shopID, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		var servedAtNull sql.NullTime
		if err := rows.Scan(&entry.EntryID, &entry.ShopID, &entry.CustomerID, &entry.State,
			&entry.JoinedAt, &entry.JoinSeq, &servedAtNull, &entry.Active); err != nil {
			return nil, err
		}
		entry.ServedAt = nullTimePtr(servedAtNull)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func loadEntryState(ctx context.Context, tx pgx.Tx, entryID string) (string, error) {
	var state string
	row := tx.QueryRow(ctx, `
		SELECT state
		FROM queue_entries
		WHERE entry_id = $1 AND active
	`, entryID)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrEntryNotFound
		}
		return "", err
	}
	return state, nil
}

func entryPayload(entry models.QueueEntry) map[string]interface{} {
	return map[string]interface{}{
		"entry_id":    entry.EntryID,
		"shop_id":     entry.ShopID,
		"customer_id": entry.CustomerID,
		"state":       entry.State,
		"joined_at":   entry.JoinedAt,
		"served_at":   entry.ServedAt,
	}
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}
