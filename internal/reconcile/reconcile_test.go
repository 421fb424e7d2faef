package reconcile

import (
	"context"
	"testing"
	"time"

	"meal-ledger-go/internal/classify"
	"meal-ledger-go/internal/identity"
	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collection = "Spring Supper"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func supperEvent() classify.Event {
	return classify.Event{
		Collection: collection,
		Bands: []classify.Band{
			{Tier: models.TierMember, Low: dec("15"), High: dec("15")},
			{Tier: models.TierNonMember, Low: dec("20"), High: dec("20")},
		},
		Tolerance: dec("0.50"),
	}
}

func setupDriver(gw store.Gateway) *Driver {
	return NewDriver(gw, identity.NewResolver([]string{"office@kitchen.org"}), supperEvent())
}

func item(first, last, email, details, amount string) models.LineItem {
	return models.LineItem{
		Identity:    models.Identity{FirstName: first, LastName: last, Email: email},
		PurchasedAt: time.Date(2024, 4, 2, 18, 0, 0, 0, time.UTC),
		Details:     details,
		AmountPaid:  dec(amount),
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	driver := setupDriver(mem)
	batch := []models.LineItem{item("A", "B", "a@x.com", "2x Member", "30")}

	first, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 1, first.CreatedCount())
	assert.Equal(t, 2, first.Created[0].Counts.Member)
	assert.Equal(t, 0, first.SkippedCount())

	records, err := mem.ListAll(ctx, collection)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Int(models.FieldMemberCount))

	second, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedCount())
	assert.Equal(t, 1, second.SkippedCount())
	assert.Empty(t, second.Mismatches)

	records, err = mem.ListAll(ctx, collection)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRun_LargerBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	driver := setupDriver(mem)
	batch := []models.LineItem{
		item("Ada", "Lovelace", "ada@x.com", "1x Member", "15"),
		item("Jon", "Doe", "", "2x Dinner", "40"),
		item("Ada", "Lovelace", "ADA@x.com", "1x Non-Member", "20"),
		item("Grace", "Hopper", "office@kitchen.org", "3x Member", "45"),
		item("Jon", "Doe", "", "1x Guest", "17.50"),
	}

	first, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, first.CreatedCount())
	require.Len(t, first.Unclassified, 1)
	assert.Equal(t, 4, first.Unclassified[0].Index)

	second, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedCount())
	assert.Equal(t, 3, second.SkippedCount())
	assert.Equal(t, first.TotalsByTier, second.TotalsByTier)
}

func TestReconcile_MergesLinesOfOnePerson(t *testing.T) {
	driver := setupDriver(store.NewMemory())
	batch := []models.LineItem{
		item("Ada", "Lovelace", "ada@x.com", "2x Member", "30"),
		item("Ada", "Lovelace", "ada@x.com", "1x Non-Member", "20"),
	}

	summary, err := driver.Reconcile(context.Background(), batch, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.CreatedCount())
	tx := summary.Created[0]
	assert.Equal(t, models.TierCounts{Member: 2, NonMember: 1}, tx.Counts)
	assert.True(t, tx.AmountPaid.Equal(dec("50")))
	assert.Equal(t, 2, summary.TotalsByTier[models.TierMember])
	assert.Equal(t, 1, summary.TotalsByTier[models.TierNonMember])
}

func TestReconcile_ReportsMismatch(t *testing.T) {
	existing := []models.Record{{
		Id:        "rec1",
		CreatedAt: time.Now(),
		Fields: map[string]any{
			models.FieldFirstName:   "Ada",
			models.FieldLastName:    "Lovelace",
			models.FieldEmail:       "ada@x.com",
			models.FieldMemberCount: 1,
			models.FieldAmountPaid:  15.0,
		},
	}}
	mem := store.NewMemory()
	driver := setupDriver(mem)

	summary, err := driver.Reconcile(context.Background(), []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "2x Member", "30")}, existing)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.CreatedCount())
	require.Len(t, summary.Mismatches, 1)
	m := summary.Mismatches[0]
	assert.Equal(t, "rec1", m.RecordId)
	assert.Equal(t, 2, m.Expected.Counts.Member)
	assert.Equal(t, 1, m.Actual.Counts.Member)

	records, err := mem.ListAll(context.Background(), collection)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReconcile_AmbiguousIdentityFailsItemOnly(t *testing.T) {
	existing := []models.Record{
		{Id: "rec1", CreatedAt: time.Now(), Fields: map[string]any{models.FieldFirstName: "Jon", models.FieldLastName: "Doe", models.FieldMemberCount: 1}},
		{Id: "rec2", CreatedAt: time.Now(), Fields: map[string]any{models.FieldFirstName: "Jon", models.FieldLastName: "Doe", models.FieldMemberCount: 3}},
	}
	driver := setupDriver(store.NewMemory())
	batch := []models.LineItem{
		item("Jon", "Doe", "", "2x Member", "30"),
		item("Amy", "Poe", "amy@x.com", "1x Member", "15"),
	}

	summary, err := driver.Reconcile(context.Background(), batch, existing)
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.ErrorIs(t, summary.Failed[0].Err, store.ErrAmbiguousIdentity)
	assert.Equal(t, 1, summary.CreatedCount())
	assert.Equal(t, "Amy", summary.Created[0].Identity.FirstName)
}

func TestReconcile_UnknownPriceIsNeverDefaulted(t *testing.T) {
	driver := setupDriver(store.NewMemory())
	summary, err := driver.Reconcile(context.Background(), []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "2x Dinner", "35")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.CreatedCount())
	require.Len(t, summary.Unclassified, 1)
	assert.ErrorIs(t, summary.Unclassified[0].Err, store.ErrClassificationUnknown)
	assert.Equal(t, "2x Dinner", summary.Unclassified[0].Details)
}

func TestReconcile_AmountWarning(t *testing.T) {
	driver := setupDriver(store.NewMemory())
	summary, err := driver.Reconcile(context.Background(), []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "2x Member", "25")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CreatedCount())
	require.Len(t, summary.AmountWarnings, 1)
	assert.ErrorIs(t, summary.AmountWarnings[0].Err, store.ErrQuantityMismatch)
}

type failingCreates struct{ *store.Memory }

func (failingCreates) Create(context.Context, string, map[string]any) (*models.Record, error) {
	return nil, store.ErrGatewayUnavailable
}

func TestReconcile_GatewayFailureContinues(t *testing.T) {
	driver := setupDriver(failingCreates{store.NewMemory()})
	batch := []models.LineItem{
		item("Ada", "Lovelace", "ada@x.com", "1x Member", "15"),
		item("Amy", "Poe", "amy@x.com", "1x Member", "15"),
	}
	summary, err := driver.Reconcile(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Len(t, summary.Failed, 2)
	assert.Equal(t, 0, summary.CreatedCount())
}

// lateAckCreates stores the first create, then reports its outcome as unknown
type lateAckCreates struct {
	*store.Memory
	commit bool
	calls  int
}

func (l *lateAckCreates) Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error) {
	l.calls++
	if l.calls == 1 {
		if l.commit {
			if _, err := l.Memory.Create(ctx, collection, fields); err != nil {
				return nil, err
			}
		}
		return nil, store.ErrWriteUncertain
	}
	return l.Memory.Create(ctx, collection, fields)
}

func TestReconcile_UncertainCreateAdoptsStoredRecord(t *testing.T) {
	ctx := context.Background()
	gw := &lateAckCreates{Memory: store.NewMemory(), commit: true}
	driver := setupDriver(gw)
	batch := []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "2x Member", "30")}

	first, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 1, first.CreatedCount())
	assert.Empty(t, first.Failed)
	assert.Equal(t, 1, gw.calls)

	records, err := gw.ListAll(ctx, collection)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, records[0].Id, first.Created[0].Id)

	second, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedCount())
	assert.Equal(t, 1, second.SkippedCount())
	assert.Empty(t, second.Failed)
}

func TestReconcile_UncertainCreateNotStoredFailsUntilRerun(t *testing.T) {
	ctx := context.Background()
	gw := &lateAckCreates{Memory: store.NewMemory()}
	driver := setupDriver(gw)
	batch := []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "2x Member", "30")}

	first, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, first.CreatedCount())
	require.Len(t, first.Failed, 1)
	assert.ErrorIs(t, first.Failed[0].Err, store.ErrWriteUncertain)

	records, err := gw.ListAll(ctx, collection)
	require.NoError(t, err)
	assert.Empty(t, records)

	second, err := driver.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, second.CreatedCount())
	assert.Empty(t, second.Failed)
}

func TestReconcile_UnkeyedLineIsSurfaced(t *testing.T) {
	driver := setupDriver(store.NewMemory())
	batch := []models.LineItem{
		item("Cher", "", "office@kitchen.org", "1x Member", "15"),
		item("Ada", "Lovelace", "ada@x.com", "1x Member", "15"),
	}

	summary, err := driver.Reconcile(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CreatedCount())
	require.Len(t, summary.Unkeyed, 1)
	assert.Equal(t, 0, summary.Unkeyed[0].Index)
	assert.Equal(t, "Cher", summary.Unkeyed[0].Identity.FirstName)

	withRef := item("Cher", "", "", "1x Member", "15")
	withRef.ExternalRef = "ord-9"
	summary, err = driver.Reconcile(context.Background(), []models.LineItem{withRef}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CreatedCount())
	assert.Empty(t, summary.Unkeyed)
}

func TestReconcile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	driver := setupDriver(store.NewMemory())
	_, err := driver.Reconcile(ctx, []models.LineItem{item("Ada", "Lovelace", "ada@x.com", "1x Member", "15")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcile_TotalsByPaymentMethod(t *testing.T) {
	driver := setupDriver(store.NewMemory())
	cash := item("Ada", "Lovelace", "ada@x.com", "1x Member", "15")
	cash.PaymentMethod = models.PaymentCash
	card := item("Amy", "Poe", "amy@x.com", "2x Non-Member", "40")
	card.PaymentMethod = models.PaymentCard
	refunded := item("Al", "Bo", "al@x.com", "1x Member", "15")
	refunded.Refunded = true

	summary, err := driver.Reconcile(context.Background(), []models.LineItem{cash, card, refunded}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.CreatedCount())
	assert.Equal(t, 1, summary.TotalsByPaymentMethod[models.PaymentCash].Tickets)
	assert.True(t, summary.TotalsByPaymentMethod[models.PaymentCard].Amount.Equal(dec("40")))
	assert.Equal(t, 3, summary.TotalTickets())

	assert.NoError(t, ValidateTotal(summary, 3))
	assert.ErrorIs(t, ValidateTotal(summary, 81), store.ErrQuantityMismatch)
	assert.NoError(t, ValidateTotal(summary, 0))
}

func TestMergeAttendance(t *testing.T) {
	resolver := identity.NewResolver(nil)
	txs := []models.Transaction{
		{Id: "t1", Identity: models.Identity{FirstName: "Ada", LastName: "Lovelace", Email: "ada@x.com"}, Counts: models.TierCounts{Member: 1}, AmountPaid: dec("15"), PaymentMethod: models.PaymentCash},
		{Id: "t2", Identity: models.Identity{FirstName: "Jon", LastName: "Doe"}, Counts: models.TierCounts{NonMember: 1}, AmountPaid: dec("20")},
		{Id: "t3", Identity: models.Identity{FirstName: "A.", LastName: "Lovelace", Email: "Ada@x.com"}, Counts: models.TierCounts{NonMember: 2}, AmountPaid: dec("40"), PaymentMethod: models.PaymentCard},
		{Id: "t4", Identity: models.Identity{FirstName: "Jon", LastName: "Doe"}, Counts: models.TierCounts{NonMember: 1}, Refunded: true},
		{Id: "t5", Identity: models.Identity{}, Counts: models.TierCounts{Member: 1}},
		{Id: "t6", Identity: models.Identity{}, Counts: models.TierCounts{Member: 1}},
	}

	attendance := MergeAttendance(txs, resolver)
	require.Len(t, attendance, 4)
	assert.Equal(t, []string{"t1", "t3"}, attendance[0].TransactionIds)
	assert.Equal(t, models.TierCounts{Member: 1, NonMember: 2}, attendance[0].Counts)
	assert.True(t, attendance[0].Amount.Equal(dec("55")))
	assert.Equal(t, []models.PaymentMethod{models.PaymentCash, models.PaymentCard}, attendance[0].PaymentMethods)
	assert.Equal(t, []string{"t2"}, attendance[1].TransactionIds)
}
