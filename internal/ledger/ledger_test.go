package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = models.LedgerConfig{
	CardsCollection:        "Meal Cards",
	ReservationsCollection: "Reservations",
}

var testTiers = map[string]int{"5 Meals": 5, "10 Meals": 10, "20 Meals": 20}

type recordingJournal struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func (r *recordingJournal) Record(_ context.Context, entry models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingJournal) all() []models.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.LedgerEntry(nil), r.entries...)
}

func setupLedger(t *testing.T, gw store.Gateway) (*Ledger, *recordingJournal) {
	t.Helper()
	journal := &recordingJournal{}
	return New(gw, testConfig, testTiers, journal), journal
}

func seedCard(mem *store.Memory, id string, total, remaining int) {
	mem.Seed(testConfig.CardsCollection, models.Record{
		Id:        id,
		CreatedAt: time.Now(),
		Fields: map[string]any{
			models.FieldFirstName:      "Ada",
			models.FieldLastName:       "Lovelace",
			models.FieldTotalMeals:     total,
			models.FieldRemainingMeals: remaining,
		},
	})
}

func reserve(t *testing.T, l *Ledger, qty int) *models.Reservation {
	t.Helper()
	res, err := l.Reserve(context.Background(), ReserveRequest{
		Identity:      models.Identity{FirstName: "Ada", LastName: "Lovelace"},
		Date:          time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		MealType:      models.MealToGo,
		Quantity:      qty,
		PaymentMethod: models.PaymentCash,
	})
	require.NoError(t, err)
	return res
}

func TestLinkAndUnlinkRestoreBalance(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, journal := setupLedger(t, mem)

	res := reserve(t, l, 3)
	assert.False(t, res.Linked())

	linked, err := l.Link(ctx, res.Id, "card1", false)
	require.NoError(t, err)
	assert.Equal(t, "card1", linked.CardId)
	assert.Equal(t, models.PaymentMealCard, linked.PaymentMethod)

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 7, card.RemainingMeals)
	assert.Equal(t, 10, card.TotalMeals)

	unlinked, err := l.Unlink(ctx, res.Id, models.PaymentCash)
	require.NoError(t, err)
	assert.False(t, unlinked.Linked())
	assert.Equal(t, models.PaymentCash, unlinked.PaymentMethod)

	card, err = l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 10, card.RemainingMeals)

	entries := journal.all()
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryDebit, entries[0].Type)
	assert.Equal(t, 10, entries[0].RemainingBefore)
	assert.Equal(t, 7, entries[0].RemainingAfter)
	assert.Equal(t, res.Id, entries[0].ReservationId)
	assert.Equal(t, models.EntryCredit, entries[1].Type)
	assert.Equal(t, 10, entries[1].RemainingAfter)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 2)
	l, journal := setupLedger(t, mem)

	_, err := l.Debit(ctx, Adjustment{AccountId: "card1", Meals: 3, ReservationId: "res1"})
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 2, card.RemainingMeals)
	assert.Empty(t, journal.all())

	card, err = l.Debit(ctx, Adjustment{AccountId: "card1", Meals: 3, ReservationId: "res1", Override: true, Reason: "staff correction"})
	require.NoError(t, err)
	assert.Equal(t, -1, card.RemainingMeals)
	require.Len(t, journal.all(), 1)
	assert.True(t, journal.all()[0].Override)
}

func TestDebit_RequiresReservation(t *testing.T) {
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, _ := setupLedger(t, mem)

	_, err := l.Debit(context.Background(), Adjustment{AccountId: "card1", Meals: 1})
	assert.ErrorIs(t, err, store.ErrUnpairedDebit)
}

func TestCredit_NeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 9)
	l, _ := setupLedger(t, mem)

	_, err := l.Credit(ctx, Adjustment{AccountId: "card1", Meals: 2, ReservationId: "res1"})
	assert.ErrorIs(t, err, store.ErrExceedsTotal)

	card, err := l.Credit(ctx, Adjustment{AccountId: "card1", Meals: 1, ReservationId: "res1"})
	require.NoError(t, err)
	assert.Equal(t, 10, card.RemainingMeals)
}

func TestMutations_Validation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, _ := setupLedger(t, mem)

	_, err := l.Grant(ctx, "missing", 5, "top-up")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	_, err = l.Grant(ctx, "card1", 0, "top-up")
	assert.ErrorIs(t, err, store.ErrInvalidMeals)

	_, err = l.Debit(ctx, Adjustment{AccountId: "card1", Meals: -2, ReservationId: "res1"})
	assert.ErrorIs(t, err, store.ErrInvalidMeals)
}

func TestGrant_TopsUpExhaustedCard(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 0)
	l, _ := setupLedger(t, mem)

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, models.CardExhausted, card.State())

	card, err = l.Grant(ctx, "card1", 5, "top-up")
	require.NoError(t, err)
	assert.Equal(t, 15, card.TotalMeals)
	assert.Equal(t, 5, card.RemainingMeals)
	assert.Equal(t, models.CardActive, card.State())
}

func TestBalanceInvariantHolds(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 0, 0)
	l, _ := setupLedger(t, mem)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		meals := rng.Intn(6) + 1
		adj := Adjustment{AccountId: "card1", Meals: meals, ReservationId: "res"}
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = l.Grant(ctx, "card1", meals, "purchase")
		case 1:
			_, err = l.Debit(ctx, adj)
		case 2:
			_, err = l.Credit(ctx, adj)
		}
		if err != nil {
			require.True(t, errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, store.ErrExceedsTotal), "unexpected error: %v", err)
		}

		card, err := l.Card(ctx, "card1")
		require.NoError(t, err)
		require.GreaterOrEqual(t, card.RemainingMeals, 0)
		require.LessOrEqual(t, card.RemainingMeals, card.TotalMeals)
	}
}

func TestConcurrentDebitsAreSerialized(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, journal := setupLedger(t, mem)

	var wg sync.WaitGroup
	var succeeded, refused atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, Adjustment{AccountId: "card1", Meals: 1, ReservationId: "res"})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, store.ErrInsufficientBalance):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, succeeded.Load())
	assert.EqualValues(t, 15, refused.Load())
	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 0, card.RemainingMeals)
	assert.Len(t, journal.all(), 10)
	assert.Zero(t, l.locks.size())
}

func TestReserve_FallsBackWhenCardCannotPay(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 1)
	l, journal := setupLedger(t, mem)

	res, err := l.Reserve(ctx, ReserveRequest{
		Identity: models.Identity{FirstName: "Ada", LastName: "Lovelace"},
		MealType: models.MealDineIn,
		Quantity: 2,
		CardId:   "card1",
		Notes:    "window seat",
	})
	require.ErrorIs(t, err, store.ErrInsufficientBalance)
	require.NotNil(t, res)
	assert.False(t, res.Linked())
	assert.Equal(t, models.PaymentUnknown, res.PaymentMethod)
	assert.True(t, res.NeedsFollowUp)
	assert.Contains(t, res.Notes, "window seat")
	assert.Contains(t, res.Notes, "card1")
	assert.Empty(t, journal.all())

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 1, card.RemainingMeals)
}

func TestReserve_LinksCard(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, _ := setupLedger(t, mem)

	res, err := l.Reserve(ctx, ReserveRequest{
		Identity: models.Identity{FirstName: "Ada", LastName: "Lovelace"},
		MealType: models.MealDelivery,
		Quantity: 4,
		CardId:   "card1",
	})
	require.NoError(t, err)
	assert.Equal(t, "card1", res.CardId)
	assert.Equal(t, models.PaymentMealCard, res.PaymentMethod)
	assert.False(t, res.NeedsFollowUp)

	_, err = l.Link(ctx, res.Id, "card1", false)
	assert.ErrorIs(t, err, store.ErrAlreadyLinked)

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 6, card.RemainingMeals)
}

func TestUnlink_NotLinked(t *testing.T) {
	mem := store.NewMemory()
	l, _ := setupLedger(t, mem)
	res := reserve(t, l, 1)

	_, err := l.Unlink(context.Background(), res.Id, models.PaymentCash)
	assert.ErrorIs(t, err, store.ErrNotLinked)
}

func TestCancel_ReturnsMeals(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	l, _ := setupLedger(t, mem)

	res := reserve(t, l, 2)
	_, err := l.Link(ctx, res.Id, "card1", false)
	require.NoError(t, err)

	cancelled, err := l.Cancel(ctx, res.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.Linked())

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 10, card.RemainingMeals)

	_, err = l.Link(ctx, res.Id, "card1", false)
	assert.Error(t, err)
}

// failingReservationUpdates rejects reservation updates after the first n
type failingReservationUpdates struct {
	*store.Memory
	allowed atomic.Int32
}

func (f *failingReservationUpdates) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error) {
	if collection == testConfig.ReservationsCollection && f.allowed.Add(-1) < 0 {
		return nil, store.ErrGatewayUnavailable
	}
	return f.Memory.Update(ctx, collection, id, fields)
}

func TestLink_ReversesDebitWhenReservationUpdateFails(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 10)
	gw := &failingReservationUpdates{Memory: mem}
	l, journal := setupLedger(t, gw)

	res := reserve(t, l, 3)
	_, err := l.Link(ctx, res.Id, "card1", false)
	require.ErrorIs(t, err, store.ErrGatewayUnavailable)

	card, err := l.Card(ctx, "card1")
	require.NoError(t, err)
	assert.Equal(t, 10, card.RemainingMeals)

	stored, err := l.Reservation(ctx, res.Id)
	require.NoError(t, err)
	assert.False(t, stored.Linked())

	entries := journal.all()
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryCredit, entries[1].Type)
	assert.True(t, entries[1].Override)
	assert.Empty(t, VerifyPairing([]models.Reservation{*stored}, entries))
}

func TestOpenCard(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l, journal := setupLedger(t, mem)
	ada := models.Identity{FirstName: "Ada", LastName: "Lovelace", Email: "ada@x.com"}

	card, err := l.OpenCard(ctx, CardRequest{Identity: ada, Tier: "10 Meals", WeeklyDelivery: true, DeliveryAddress: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, 10, card.TotalMeals)
	assert.Equal(t, 10, card.RemainingMeals)
	assert.Equal(t, "1 Main St", card.DeliveryAddress)
	require.Len(t, journal.all(), 1)
	assert.Equal(t, models.EntryGrant, journal.all()[0].Type)

	_, err = l.OpenCard(ctx, CardRequest{Identity: ada, Tier: "7 Meals"})
	assert.Error(t, err)
	_, err = l.OpenCard(ctx, CardRequest{Identity: ada, Tier: "5 Meals", DeliveryAddress: "1 Main St"})
	assert.Error(t, err)
	_, err = l.OpenCard(ctx, CardRequest{Identity: ada, Tier: "5 Meals", WeeklyDelivery: true})
	assert.Error(t, err)
}

func TestVerifyPairing(t *testing.T) {
	reservations := []models.Reservation{
		{Id: "res1", CardId: "card1", Quantity: 2},
		{Id: "res2", Quantity: 1},
		{Id: "res3", CardId: "card1", Quantity: 1},
		{Id: "res4", Quantity: 3},
	}
	entries := []models.LedgerEntry{
		{Id: "e0", AccountId: "card1", Type: models.EntryGrant, Meals: 10},
		{Id: "e1", AccountId: "card1", ReservationId: "res1", Type: models.EntryDebit, Meals: 2},
		{Id: "e2", AccountId: "card1", ReservationId: "res2", Type: models.EntryDebit, Meals: 1},
		{Id: "e3", AccountId: "card1", ReservationId: "res2", Type: models.EntryCredit, Meals: 1},
		{Id: "e4", AccountId: "card1", ReservationId: "res4", Type: models.EntryDebit, Meals: 3},
		{Id: "e5", AccountId: "card1", ReservationId: "gone", Type: models.EntryDebit, Meals: 1},
		{Id: "e6", AccountId: "card1", Type: models.EntryCredit, Meals: 2, Reason: "missed payment settled"},
		{Id: "e7", AccountId: "card1", Type: models.EntryCredit, Meals: 1},
	}

	issues := VerifyPairing(reservations, entries)
	require.Len(t, issues, 4)
	assert.Equal(t, "", issues[0].ReservationId)
	assert.Contains(t, issues[0].Reason, "credit of 1 meals")
	assert.Equal(t, "gone", issues[1].ReservationId)
	assert.Equal(t, "res3", issues[2].ReservationId)
	assert.Equal(t, "res4", issues[3].ReservationId)
}

func TestCorrect_CreditsWithoutReservation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedCard(mem, "card1", 10, 4)
	l, journal := setupLedger(t, mem)

	_, err := l.Correct(ctx, "card1", 2, "  ", false)
	assert.ErrorIs(t, err, store.ErrReasonRequired)

	card, err := l.Correct(ctx, "card1", 2, "missed payment settled", false)
	require.NoError(t, err)
	assert.Equal(t, 6, card.RemainingMeals)
	assert.Equal(t, 10, card.TotalMeals)

	_, err = l.Correct(ctx, "card1", 5, "double refund", false)
	assert.ErrorIs(t, err, store.ErrExceedsTotal)

	card, err = l.Correct(ctx, "card1", 5, "double refund", true)
	require.NoError(t, err)
	assert.Equal(t, 11, card.RemainingMeals)

	entries := journal.all()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsCorrection())
	assert.Equal(t, "missed payment settled", entries[0].Reason)
	assert.True(t, entries[1].Override)
	assert.Empty(t, VerifyPairing(nil, entries))
}
