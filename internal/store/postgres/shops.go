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
)

func (s *Store) GetShopWithActiveServices(ctx context.Context, shopID string) (models.Shop, error) {
	return getShopWithServices(ctx, s.pool, shopID)
}

func getShopWithServices(ctx context.Context, q querier, shopID string) (models.Shop, error) {
	var shop models.Shop
	var addressNull sql.NullString
	row := q.QueryRow(ctx, `
		SELECT shop_id, name, address, is_open
		FROM shops
		WHERE shop_id = $1 AND active
	`, shopID)
	if err := row.Scan(&shop.ShopID, &shop.Name, &addressNull, &shop.IsOpen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Shop{}, store.ErrShopNotFound
		}
		return models.Shop{}, err
	}
	if addressNull.Valid {
		shop.Address = addressNull.String
	}

	rows, err := q.Query(ctx, `
		SELECT service_id, shop_id, name, price, estimated_minutes, active
		FROM services
		WHERE shop_id = $1 AND active
		ORDER BY name ASC
	`, shopID)
	if err != nil {
		return models.Shop{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.ShopID, &svc.Name, &svc.Price, &svc.EstimatedMinutes, &svc.Active); err != nil {
			return models.Shop{}, err
		}
		shop.Services = append(shop.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return models.Shop{}, err
	}
	return shop, nil
}

// UpsertPushSubscription registers or refreshes a browser push endpoint. The
// endpoint URL is the identity: re-registering moves it to the new customer
// and reactivates it.
func (s *Store) UpsertPushSubscription(ctx context.Context, sub store.PushSubscription) (store.PushSubscription, error) {
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO push_subscriptions (subscription_id, customer_id, endpoint, keys_auth, keys_p256dh, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		ON CONFLICT (endpoint) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    keys_auth = EXCLUDED.keys_auth,
		    keys_p256dh = EXCLUDED.keys_p256dh,
		    active = TRUE
		RETURNING subscription_id, customer_id, endpoint, keys_auth, keys_p256dh, active, created_at
	`, sub.SubscriptionID, sub.CustomerID, sub.Endpoint, sub.KeysAuth, sub.KeysP256DH, time.Now().UTC())

	var saved store.PushSubscription
	if err := row.Scan(&saved.SubscriptionID, &saved.CustomerID, &saved.Endpoint,
		&saved.KeysAuth, &saved.KeysP256DH, &saved.Active, &saved.CreatedAt); err != nil {
		return store.PushSubscription{}, err
	}
	return saved, nil
}
