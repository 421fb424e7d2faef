package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
)

func setupTestDb(t *testing.T, pageSize int) (*Service, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	service, err := newService(db, pageSize)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

func TestCreateAndGet(t *testing.T) {
	service, cleanup := setupTestDb(t, 10)
	defer cleanup()

	ctx := context.Background()
	created, err := service.Create(ctx, "Tickets", map[string]any{
		models.FieldFirstName:   "Ada",
		models.FieldMemberCount: 2,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := service.Get(ctx, "Tickets", created.Id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.String(models.FieldFirstName) != "Ada" {
		t.Errorf("Expected first name Ada, got %q", got.String(models.FieldFirstName))
	}
	if got.Int(models.FieldMemberCount) != 2 {
		t.Errorf("Expected member count 2, got %d", got.Int(models.FieldMemberCount))
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected creation time to be set")
	}
	if !created.CreatedAt.Equal(got.CreatedAt) || created.Int(models.FieldMemberCount) != 2 {
		t.Errorf("Expected created record to match stored row, got %+v vs %+v", created, got)
	}

	if _, err := service.Get(ctx, "Other", created.Id); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound for other collection, got %v", err)
	}
}

func TestListAll_PaginatesInCreationOrder(t *testing.T) {
	service, cleanup := setupTestDb(t, 2)
	defer cleanup()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	service.now = func() time.Time {
		tick++
		// two records share each timestamp to exercise the id tie-break
		return base.Add(time.Duration(tick/2) * time.Second)
	}

	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := service.Create(ctx, "Tickets", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		ids = append(ids, rec.Id)
	}
	if _, err := service.Create(ctx, "Cards", map[string]any{"n": 99}); err != nil {
		t.Fatalf("Create card failed: %v", err)
	}

	records, err := service.ListAll(ctx, "Tickets")
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("Expected 5 records, got %d", len(records))
	}
	seen := make(map[string]bool)
	for i, r := range records {
		if seen[r.Id] {
			t.Errorf("Record %s returned twice", r.Id)
		}
		seen[r.Id] = true
		if i > 0 && r.CreatedAt.Before(records[i-1].CreatedAt) {
			t.Errorf("Records out of creation order at %d", i)
		}
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("Record %s missing from listing", id)
		}
	}
}

func TestUpdate_MergesFields(t *testing.T) {
	service, cleanup := setupTestDb(t, 10)
	defer cleanup()

	ctx := context.Background()
	rec, err := service.Create(ctx, "Cards", map[string]any{
		models.FieldRemainingMeals:  10,
		models.FieldDeliveryAddress: "1 Main St",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := service.Update(ctx, "Cards", rec.Id, map[string]any{
		models.FieldRemainingMeals:  7,
		models.FieldDeliveryAddress: nil,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Int(models.FieldRemainingMeals) != 7 {
		t.Errorf("Expected 7 remaining, got %d", updated.Int(models.FieldRemainingMeals))
	}
	if _, ok := updated.Fields[models.FieldDeliveryAddress]; ok {
		t.Error("Expected delivery address to be cleared")
	}

	if _, err := service.Update(ctx, "Cards", "recMissing", map[string]any{"x": 1}); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	service, cleanup := setupTestDb(t, 10)
	defer cleanup()

	ctx := context.Background()
	rec, err := service.Create(ctx, "Tickets", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := service.Delete(ctx, "Tickets", rec.Id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := service.Delete(ctx, "Tickets", rec.Id); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound on second delete, got %v", err)
	}
}

func TestJournal_RecordIsIdempotentAndReconciles(t *testing.T) {
	service, cleanup := setupTestDb(t, 10)
	defer cleanup()

	ctx := context.Background()
	journal := service.Journal()
	entries := []models.LedgerEntry{
		{Id: "e1", AccountId: "card1", Type: models.EntryGrant, Meals: 10, RemainingAfter: 10, TotalAfter: 10},
		{Id: "e2", AccountId: "card1", ReservationId: "res1", Type: models.EntryDebit, Meals: 3, RemainingBefore: 10, RemainingAfter: 7, TotalBefore: 10, TotalAfter: 10},
		{Id: "e3", AccountId: "card1", ReservationId: "res1", Type: models.EntryCredit, Meals: 3, RemainingBefore: 7, RemainingAfter: 10, TotalBefore: 10, TotalAfter: 10},
		{Id: "e4", AccountId: "card2", Type: models.EntryGrant, Meals: 5, RemainingAfter: 5, TotalAfter: 5},
	}
	for _, e := range entries {
		if err := journal.Record(ctx, e); err != nil {
			t.Fatalf("Record %s failed: %v", e.Id, err)
		}
	}
	// replaying an entry must not double count
	if err := journal.Record(ctx, entries[1]); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	card1, err := journal.Entries(ctx, "card1")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(card1) != 3 {
		t.Errorf("Expected 3 entries for card1, got %d", len(card1))
	}
	all, err := journal.Entries(ctx, "")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 entries overall, got %d", len(all))
	}

	if err := journal.ReconcileCard(ctx, models.MealCard{Id: "card1", TotalMeals: 10, RemainingMeals: 10}); err != nil {
		t.Errorf("Expected card1 to reconcile, got %v", err)
	}
	err = journal.ReconcileCard(ctx, models.MealCard{Id: "card2", TotalMeals: 5, RemainingMeals: 4})
	if !errors.Is(err, store.ErrQuantityMismatch) {
		t.Errorf("Expected ErrQuantityMismatch for card2, got %v", err)
	}
}

func TestListAll_BusyDatabaseIsTransient(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	service := &Service{db: db, pageSize: 10, now: time.Now}
	mock.ExpectQuery(`SELECT id, fields, created_at`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})

	_, err = service.ListAll(context.Background(), "Tickets")
	if !errors.Is(err, store.ErrGatewayUnavailable) {
		t.Errorf("Expected ErrGatewayUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
