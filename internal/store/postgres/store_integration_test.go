package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"shopline/queue-service/internal/models"
	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestJoinQueueAssignsFIFOPositions(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customers := []string{
		seedCustomer(t, ctx, pool, "081200000001"),
		seedCustomer(t, ctx, pool, "081200000002"),
		seedCustomer(t, ctx, pool, "081200000003"),
	}

	for i, customerID := range customers {
		entry := joinQueue(t, ctx, st, shopID, customerID)
		if entry.Position != i+1 {
			t.Fatalf("expected position %d, got %d", i+1, entry.Position)
		}
	}

	status, err := st.GetQueueStatus(ctx, shopID, customers[2])
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if status.Position != 3 || status.PeopleAhead != 2 || status.TotalInQueue != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestJoinQueueEventCarriesShopName(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	entry := joinQueue(t, ctx, st, shopID, customerID)

	var payload string
	row := pool.QueryRow(ctx, `
		SELECT payload_json::text FROM outbox_events WHERE type = $1
	`, store.EventQueueJoined)
	if err := row.Scan(&payload); err != nil {
		t.Fatalf("expected queue.joined event: %v", err)
	}
	if !strings.Contains(payload, entry.EntryID) || !strings.Contains(payload, "Fade Factory") {
		t.Fatalf("joined event missing entry or shop name: %s", payload)
	}
}

func TestGetQueueStatusIdempotentReads(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	first := seedCustomer(t, ctx, pool, "081200000001")
	second := seedCustomer(t, ctx, pool, "081200000002")
	joinQueue(t, ctx, st, shopID, first)
	joinQueue(t, ctx, st, shopID, second)

	once, err := st.GetQueueStatus(ctx, shopID, second)
	if err != nil {
		t.Fatalf("first status read: %v", err)
	}
	again, err := st.GetQueueStatus(ctx, shopID, second)
	if err != nil {
		t.Fatalf("second status read: %v", err)
	}
	if !reflect.DeepEqual(once, again) {
		t.Fatalf("status changed between reads: %+v vs %+v", once, again)
	}
	if once.Position != 2 || once.PeopleAhead != 1 || once.TotalInQueue != 2 {
		t.Fatalf("unexpected status: %+v", once)
	}
}

func TestJoinQueueConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.JoinQueue(ctx, store.JoinQueueInput{
				ShopID:     shopID,
				CustomerID: customerID,
				JoinedAt:   time.Now().UTC(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, duplicates int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrDuplicateEntry):
			duplicates++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if successes != 1 || duplicates != 1 {
		t.Fatalf("expected exactly one winner, got %d successes %d duplicates", successes, duplicates)
	}
}

func TestJoinQueueClosedShop(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, false)
	customerID := seedCustomer(t, ctx, pool, "081200000001")

	_, err := st.JoinQueue(ctx, store.JoinQueueInput{
		ShopID:     shopID,
		CustomerID: customerID,
		JoinedAt:   time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrShopClosed) {
		t.Fatalf("expected ErrShopClosed, got %v", err)
	}
}

func TestPickNotifiesNextInLine(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	first := seedCustomer(t, ctx, pool, "081200000001")
	second := seedCustomer(t, ctx, pool, "081200000002")

	firstEntry := joinQueue(t, ctx, st, shopID, first)
	secondEntry := joinQueue(t, ctx, st, shopID, second)

	picked, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     firstEntry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked.State != models.StatePicked {
		t.Fatalf("expected picked state, got %s", picked.State)
	}

	var payload string
	row := pool.QueryRow(ctx, `
		SELECT payload_json::text FROM outbox_events WHERE type = $1
	`, store.EventNextInLine)
	if err := row.Scan(&payload); err != nil {
		t.Fatalf("expected next_in_line event: %v", err)
	}
	if !strings.Contains(payload, secondEntry.EntryID) || !strings.Contains(payload, second) {
		t.Fatalf("next_in_line event targets wrong entry: %s", payload)
	}
}

func TestUpdateStateConflictAndInvalidTransition(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	entry := joinQueue(t, ctx, st, shopID, customerID)

	// Direct serve from in_queue is off by default.
	_, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StateServed,
		OccurredAt:  time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("pick: %v", err)
	}

	_, err = st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on repeated pick, got %v", err)
	}
}

func TestDirectServeOption(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{AllowDirectServe: true})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	entry := joinQueue(t, ctx, st, shopID, customerID)

	served, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StateServed,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("direct serve: %v", err)
	}
	if served.State != models.StateServed || served.ServedAt == nil {
		t.Fatalf("expected served entry with timestamp, got %+v", served)
	}
}

func TestCompleteVisitAtomicRollback(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	seedService(t, ctx, pool, shopID, "Cut", 3000)
	entry := joinQueue(t, ctx, st, shopID, customerID)

	if _, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("pick: %v", err)
	}

	foreign := uuid.NewString()
	_, _, err := st.CompleteVisit(ctx, store.CompleteVisitInput{
		EntryID:    entry.EntryID,
		CustomerID: customerID,
		LineItems:  []store.LineItemInput{{ServiceID: foreign}},
		OccurredAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrInvalidService) {
		t.Fatalf("expected invalid service error, got %v", err)
	}
	var invalid *store.InvalidServicesError
	if !errors.As(err, &invalid) || len(invalid.ServiceIDs) != 1 || invalid.ServiceIDs[0] != foreign {
		t.Fatalf("expected offending id in error, got %v", err)
	}

	// The failed completion must leave no trace: entry still picked, no visit.
	var state string
	row := pool.QueryRow(ctx, `SELECT state FROM queue_entries WHERE entry_id = $1`, entry.EntryID)
	if err := row.Scan(&state); err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if state != models.StatePicked {
		t.Fatalf("expected entry to stay picked, got %s", state)
	}
	var count int
	row = pool.QueryRow(ctx, `SELECT COUNT(*) FROM visits`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count visits: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no visits after rollback, got %d", count)
	}
}

func TestCompleteVisitChargesCatalogPrices(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	cutID := seedService(t, ctx, pool, shopID, "Cut", 3000)
	shaveID := seedService(t, ctx, pool, shopID, "Shave", 1500)
	entry := joinQueue(t, ctx, st, shopID, customerID)

	if _, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("pick: %v", err)
	}

	served, visit, err := st.CompleteVisit(ctx, store.CompleteVisitInput{
		EntryID:    entry.EntryID,
		CustomerID: customerID,
		LineItems: []store.LineItemInput{
			{ServiceID: cutID},
			{ServiceID: shaveID, ChargedPrice: 1000},
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("complete visit: %v", err)
	}

	if served.State != models.StateServed || served.ServedAt == nil {
		t.Fatalf("expected served entry, got %+v", served)
	}
	if visit.TotalAmount != 4000 {
		t.Fatalf("expected total 4000, got %d", visit.TotalAmount)
	}
	if len(visit.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(visit.LineItems))
	}

	var eventCount int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = $1`, store.EventVisitRecorded)
	if err := row.Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected 1 visit.recorded event, got %d", eventCount)
	}
}

func TestCompleteVisitReusesGuestByPhone(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{AllowDirectServe: true})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	serviceID := seedService(t, ctx, pool, shopID, "Cut", 3000)

	complete := func(walkInPhone string) models.Visit {
		walkIn := seedCustomer(t, ctx, pool, walkInPhone)
		entry := joinQueue(t, ctx, st, shopID, walkIn)
		_, visit, err := st.CompleteVisit(ctx, store.CompleteVisitInput{
			EntryID:   entry.EntryID,
			LineItems: []store.LineItemInput{{ServiceID: serviceID}},
			Guest: &store.GuestInfo{
				FirstName: "Dewi",
				Phone:     "081255554444",
			},
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("complete visit: %v", err)
		}
		return visit
	}

	first := complete("081200009991")
	second := complete("081200009992")
	if first.CustomerID != second.CustomerID {
		t.Fatalf("expected guest reuse by phone, got %s and %s", first.CustomerID, second.CustomerID)
	}

	var guest bool
	row := pool.QueryRow(ctx, `SELECT guest FROM customers WHERE customer_id = $1`, first.CustomerID)
	if err := row.Scan(&guest); err != nil {
		t.Fatalf("load guest: %v", err)
	}
	if !guest {
		t.Fatalf("expected billed customer to be a guest")
	}
}

func TestCancelEntryOnlyFromInQueue(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	entry := joinQueue(t, ctx, st, shopID, customerID)

	if _, err := st.UpdateState(ctx, store.TransitionInput{
		EntryID:     entry.EntryID,
		TargetState: models.StatePicked,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("pick: %v", err)
	}

	_, err := st.CancelEntry(ctx, entry.EntryID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for picked entry, got %v", err)
	}
}

func TestCancelEntryFreesUniquenessSlot(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	entry := joinQueue(t, ctx, st, shopID, customerID)

	cancelled, err := st.CancelEntry(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Active {
		t.Fatalf("expected cancelled entry to be inactive, got %+v", cancelled)
	}

	var events int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = $1`, store.EventQueueCancelled)
	if err := row.Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 queue.cancelled event, got %d", events)
	}

	// The cancelled row no longer occupies the one-active-entry slot.
	rejoined := joinQueue(t, ctx, st, shopID, customerID)
	if rejoined.EntryID == entry.EntryID {
		t.Fatalf("expected a fresh entry on rejoin")
	}
	if rejoined.Position != 1 {
		t.Fatalf("expected rejoin at position 1, got %d", rejoined.Position)
	}
}

func TestDeactivateVisitCascades(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{AllowDirectServe: true})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	serviceID := seedService(t, ctx, pool, shopID, "Cut", 3000)
	entry := joinQueue(t, ctx, st, shopID, customerID)

	_, visit, err := st.CompleteVisit(ctx, store.CompleteVisitInput{
		EntryID:    entry.EntryID,
		CustomerID: customerID,
		LineItems:  []store.LineItemInput{{ServiceID: serviceID}},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("complete visit: %v", err)
	}

	deactivated, err := st.DeactivateVisit(ctx, visit.VisitID)
	if err != nil {
		t.Fatalf("deactivate visit: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("expected inactive visit")
	}

	var activeItems int
	row := pool.QueryRow(ctx, `SELECT COUNT(*) FROM visit_line_items WHERE visit_id = $1 AND active`, visit.VisitID)
	if err := row.Scan(&activeItems); err != nil {
		t.Fatalf("count line items: %v", err)
	}
	if activeItems != 0 {
		t.Fatalf("expected line items deactivated, got %d active", activeItems)
	}

	if _, err := st.DeactivateVisit(ctx, visit.VisitID); !errors.Is(err, store.ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound on repeat, got %v", err)
	}
}

func TestVisitAnalyticsZeroFills(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx, Options{AllowDirectServe: true})
	t.Cleanup(cleanup)

	shopID := seedShop(t, ctx, pool, true)
	customerID := seedCustomer(t, ctx, pool, "081200000001")
	serviceID := seedService(t, ctx, pool, shopID, "Cut", 3000)
	entry := joinQueue(t, ctx, st, shopID, customerID)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, _, err := st.CompleteVisit(ctx, store.CompleteVisitInput{
		EntryID:    entry.EntryID,
		CustomerID: customerID,
		LineItems:  []store.LineItemInput{{ServiceID: serviceID}},
		OccurredAt: start.Add(10 * time.Hour),
	}); err != nil {
		t.Fatalf("complete visit: %v", err)
	}

	analytics, err := st.VisitAnalytics(ctx, shopID, start, start.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(analytics.Days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(analytics.Days))
	}
	if analytics.Days[0].Visits != 1 || analytics.Days[0].Revenue != 3000 {
		t.Fatalf("unexpected first day: %+v", analytics.Days[0])
	}
	if analytics.Days[1].Visits != 0 || analytics.Days[2].Visits != 0 {
		t.Fatalf("expected zero-filled days: %+v", analytics.Days)
	}
	if analytics.TotalVisits != 1 || analytics.TotalRevenue != 3000 {
		t.Fatalf("unexpected totals: %+v", analytics)
	}
}

func setupTestStore(t *testing.T, ctx context.Context, options Options) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewStore(pool, options)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return store, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedShop(t *testing.T, ctx context.Context, pool *pgxpool.Pool, open bool) string {
	t.Helper()
	shopID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO shops (shop_id, name, is_open, active) VALUES ($1, 'Fade Factory', $2, TRUE)
	`, shopID, open); err != nil {
		t.Fatalf("insert shop: %v", err)
	}
	return shopID
}

func seedCustomer(t *testing.T, ctx context.Context, pool *pgxpool.Pool, phone string) string {
	t.Helper()
	customerID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO customers (customer_id, first_name, phone, role, active) VALUES ($1, 'Budi', $2, 'customer', TRUE)
	`, customerID, phone); err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	return customerID
}

func seedService(t *testing.T, ctx context.Context, pool *pgxpool.Pool, shopID, name string, price int64) string {
	t.Helper()
	serviceID := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (service_id, shop_id, name, price, active) VALUES ($1, $2, $3, $4, TRUE)
	`, serviceID, shopID, name, price); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	return serviceID
}

func joinQueue(t *testing.T, ctx context.Context, st *Store, shopID, customerID string) models.QueueEntry {
	t.Helper()
	entry, err := st.JoinQueue(ctx, store.JoinQueueInput{
		ShopID:     shopID,
		CustomerID: customerID,
		JoinedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("join queue: %v", err)
	}
	return entry
}
