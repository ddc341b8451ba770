package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"shopline/queue-service/internal/models"
	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CompleteVisit(ctx context.Context, input store.CompleteVisitInput) (models.QueueEntry, models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var shopID string
	row := tx.QueryRow(ctx, `
		SELECT shop_id
		FROM queue_entries
		WHERE entry_id = $1 AND active
		FOR UPDATE
	`, input.EntryID)
	if err = row.Scan(&shopID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return models.QueueEntry{}, models.Visit{}, err
	}

	shop, err := getShopWithServices(ctx, tx, shopID)
	if err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}

	catalog := make(map[string]int64, len(shop.Services))
	for _, svc := range shop.Services {
		catalog[svc.ServiceID] = svc.Price
	}
	var invalid []string
	var totalAmount int64
	prices := make([]int64, len(input.LineItems))
	for i, item := range input.LineItems {
		price, ok := catalog[item.ServiceID]
		if !ok {
			invalid = append(invalid, item.ServiceID)
			continue
		}
		if item.ChargedPrice > 0 {
			price = item.ChargedPrice
		}
		prices[i] = price
		totalAmount += price
	}
	// Fail closed listing every offending id, not just the first.
	if len(invalid) > 0 {
		err = &store.InvalidServicesError{ServiceIDs: invalid}
		return models.QueueEntry{}, models.Visit{}, err
	}

	customerID := input.CustomerID
	if customerID == "" {
		if customerID, err = resolveGuestCustomer(ctx, tx, input.Guest); err != nil {
			return models.QueueEntry{}, models.Visit{}, err
		}
	} else {
		var exists bool
		row = tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM customers WHERE customer_id = $1 AND active)
		`, customerID)
		if err = row.Scan(&exists); err != nil {
			return models.QueueEntry{}, models.Visit{}, err
		}
		if !exists {
			err = store.ErrCustomerNotFound
			return models.QueueEntry{}, models.Visit{}, err
		}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	entry, err := s.transitionEntry(ctx, tx, input.EntryID, models.StateServed, occurredAt)
	if err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}

	visit := models.Visit{
		VisitID:     uuid.NewString(),
		EntryID:     &entry.EntryID,
		ShopID:      shopID,
		CustomerID:  customerID,
		TotalAmount: totalAmount,
		Active:      true,
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO visits (visit_id, entry_id, shop_id, customer_id, total_amount, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING created_at
	`, visit.VisitID, entry.EntryID, shopID, customerID, totalAmount, occurredAt)
	if err = row.Scan(&visit.CreatedAt); err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}

	for i, item := range input.LineItems {
		lineItem := models.VisitLineItem{
			LineItemID:   uuid.NewString(),
			VisitID:      visit.VisitID,
			ServiceID:    item.ServiceID,
			ChargedPrice: prices[i],
			Active:       true,
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO visit_line_items (line_item_id, visit_id, service_id, charged_price, active)
			VALUES ($1, $2, $3, $4, TRUE)
		`, lineItem.LineItemID, visit.VisitID, item.ServiceID, lineItem.ChargedPrice); err != nil {
			return models.QueueEntry{}, models.Visit{}, err
		}
		visit.LineItems = append(visit.LineItems, lineItem)
	}

	if err = insertOutboxEvent(ctx, tx, shopID, store.EventVisitRecorded, map[string]interface{}{
		"visit_id":     visit.VisitID,
		"entry_id":     entry.EntryID,
		"shop_id":      shopID,
		"customer_id":  customerID,
		"total_amount": totalAmount,
		"served_at":    entry.ServedAt,
	}); err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, models.Visit{}, err
	}
	return entry, visit, nil
}

// resolveGuestCustomer finds an existing customer by phone number or mints a
// fresh credential-less guest row. Phone is the de-duplication key; without
// one every completion gets its own guest.
func resolveGuestCustomer(ctx context.Context, tx pgx.Tx, guest *store.GuestInfo) (string, error) {
	info := store.GuestInfo{}
	if guest != nil {
		info = *guest
	}

	if info.Phone != "" {
		var customerID string
		row := tx.QueryRow(ctx, `
			SELECT customer_id
			FROM customers
			WHERE phone = $1 AND active
			ORDER BY created_at ASC
			LIMIT 1
		`, info.Phone)
		if err := row.Scan(&customerID); err == nil {
			return customerID, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
	}

	customerID := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO customers (customer_id, first_name, last_name, email, phone, role, guest, active, created_at)
		VALUES ($1, $2, $3, NULL, $4, $5, TRUE, TRUE, $6)
	`, customerID, nullIfEmpty(info.FirstName), nullIfEmpty(info.LastName), nullIfEmpty(info.Phone), models.RoleCustomer, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Store) DeactivateVisit(ctx context.Context, visitID string) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var visit models.Visit
	var entryIDNull sql.NullString
	row := tx.QueryRow(ctx, `
		UPDATE visits
		SET active = FALSE
		WHERE visit_id = $1 AND active
		RETURNING visit_id, entry_id, shop_id, customer_id, total_amount, active, created_at
	`, visitID)
	if err = row.Scan(&visit.VisitID, &entryIDNull, &visit.ShopID, &visit.CustomerID,
		&visit.TotalAmount, &visit.Active, &visit.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	visit.EntryID = nullStringPtr(entryIDNull)

	// Cascade: line items follow the visit, the queue entry stays served.
	if _, err = tx.Exec(ctx, `
		UPDATE visit_line_items
		SET active = FALSE
		WHERE visit_id = $1 AND active
	`, visitID); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) ListVisits(ctx context.Context, input store.ListVisitsInput) ([]models.Visit, store.Pagination, error) {
	page := input.Page
	if page <= 0 {
		page = 1
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT visit_id, entry_id, shop_id, customer_id, total_amount, active, created_at
		FROM visits
		WHERE active
	`
	countQuery := `
		SELECT COUNT(*)
		FROM visits
		WHERE active
	`
	var args []interface{}
	var countArgs []interface{}
	if input.ShopID != "" {
		args = append(args, input.ShopID)
		query += ` AND shop_id = $1`
		countArgs = append(countArgs, input.ShopID)
		countQuery += ` AND shop_id = $1`
	}
	if input.CustomerID != "" {
		args = append(args, input.CustomerID)
		query += ` AND customer_id = $` + strconv.Itoa(len(args))
		countArgs = append(countArgs, input.CustomerID)
		countQuery += ` AND customer_id = $` + strconv.Itoa(len(countArgs))
	}
	args = append(args, limit, (page-1)*limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Pagination{}, err
	}
	defer rows.Close()

	var visits []models.Visit
	var visitIDs []string
	for rows.Next() {
		var visit models.Visit
		var entryIDNull sql.NullString
		if err := rows.Scan(&visit.VisitID, &entryIDNull, &visit.ShopID, &visit.CustomerID,
			&visit.TotalAmount, &visit.Active, &visit.CreatedAt); err != nil {
			return nil, store.Pagination{}, err
		}
		visit.EntryID = nullStringPtr(entryIDNull)
		visits = append(visits, visit)
		visitIDs = append(visitIDs, visit.VisitID)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Pagination{}, err
	}

	if len(visitIDs) > 0 {
		itemRows, err := s.pool.Query(ctx, `
			SELECT line_item_id, visit_id, service_id, charged_price, active
			FROM visit_line_items
			WHERE visit_id = ANY($1) AND active
		`, visitIDs)
		if err != nil {
			return nil, store.Pagination{}, err
		}
		defer itemRows.Close()

		itemsByVisit := make(map[string][]models.VisitLineItem)
		for itemRows.Next() {
			var item models.VisitLineItem
			if err := itemRows.Scan(&item.LineItemID, &item.VisitID, &item.ServiceID, &item.ChargedPrice, &item.Active); err != nil {
				return nil, store.Pagination{}, err
			}
			itemsByVisit[item.VisitID] = append(itemsByVisit[item.VisitID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, store.Pagination{}, err
		}
		for i := range visits {
			visits[i].LineItems = itemsByVisit[visits[i].VisitID]
		}
	}

	var total int
	row := s.pool.QueryRow(ctx, countQuery, countArgs...)
	if err := row.Scan(&total); err != nil {
		return nil, store.Pagination{}, err
	}

	return visits, store.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (s *Store) VisitAnalytics(ctx context.Context, shopID string, start, end time.Time) (models.VisitAnalytics, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM shops WHERE shop_id = $1 AND active)
	`, shopID)
	if err := row.Scan(&exists); err != nil {
		return models.VisitAnalytics{}, err
	}
	if !exists {
		return models.VisitAnalytics{}, store.ErrShopNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT (created_at AT TIME ZONE 'UTC')::date AS day, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM visits
		WHERE shop_id = $1 AND active AND created_at >= $2 AND created_at < $3
		GROUP BY day
		ORDER BY day ASC
	`, shopID, start, end.Add(24*time.Hour))
	if err != nil {
		return models.VisitAnalytics{}, err
	}
	defer rows.Close()

	byDay := make(map[string]models.VisitDay)
	for rows.Next() {
		var day time.Time
		var count int
		var revenue int64
		if err := rows.Scan(&day, &count, &revenue); err != nil {
			return models.VisitAnalytics{}, err
		}
		key := day.Format("2006-01-02")
		byDay[key] = models.VisitDay{Date: key, Visits: count, Revenue: revenue}
	}
	if err := rows.Err(); err != nil {
		return models.VisitAnalytics{}, err
	}

	analytics := models.VisitAnalytics{}
	for cursor := start; !cursor.After(end); cursor = cursor.Add(24 * time.Hour) {
		key := cursor.Format("2006-01-02")
		day, ok := byDay[key]
		if !ok {
			day = models.VisitDay{Date: key}
		}
		analytics.Days = append(analytics.Days, day)
		analytics.TotalVisits += day.Visits
		analytics.TotalRevenue += day.Revenue
	}
	if count := len(analytics.Days); count > 0 {
		analytics.AverageVisitsPerDay = math.Round(float64(analytics.TotalVisits)/float64(count)*100) / 100
		analytics.AverageRevenuePerDay = math.Round(float64(analytics.TotalRevenue)/float64(count)*100) / 100
	}
	return analytics, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
