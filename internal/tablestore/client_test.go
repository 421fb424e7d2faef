package tablestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTableService serves one base from memory, paging listings by pageSize
type fakeTableService struct {
	mu       sync.Mutex
	records  map[string][]models.Record
	nextId   int
	throttle atomic.Int32
	calls    atomic.Int32
}

func newFakeTableService() *fakeTableService {
	return &fakeTableService{records: make(map[string][]models.Record)}
}

func (f *fakeTableService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.Header.Get("Authorization") != "Bearer key123" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"type": "AUTHENTICATION_REQUIRED", "message": "bad key"}})
		return
	}
	if f.throttle.Add(-1) >= 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]string{"type": "RATE_LIMIT", "message": "slow down"}})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v0/"), "/")
	if len(parts) < 2 || parts[0] != "app1" {
		http.NotFound(w, r)
		return
	}
	collection := parts[1]
	id := ""
	if len(parts) > 2 {
		id = parts[2]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && id == "":
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		all := f.records[collection]
		end := offset + pageSize
		resp := listResponse{}
		if end < len(all) {
			resp.Offset = strconv.Itoa(end)
		} else {
			end = len(all)
		}
		resp.Records = all[offset:end]
		writeJSON(w, http.StatusOK, resp)
	case r.Method == http.MethodPost:
		var body writeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.nextId++
		rec := models.Record{Id: fmt.Sprintf("rec%03d", f.nextId), CreatedAt: time.Now().UTC(), Fields: body.Fields}
		f.records[collection] = append(f.records[collection], rec)
		writeJSON(w, http.StatusOK, rec)
	case r.Method == http.MethodPatch:
		var body writeRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		for i, rec := range f.records[collection] {
			if rec.Id == id {
				rec.Fields = store.MergeFields(rec.Fields, body.Fields)
				f.records[collection][i] = rec
				writeJSON(w, http.StatusOK, rec)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"type": "NOT_FOUND", "message": "no such record"}})
	case r.Method == http.MethodGet:
		for _, rec := range f.records[collection] {
			if rec.Id == id {
				writeJSON(w, http.StatusOK, rec)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"type": "NOT_FOUND", "message": "no such record"}})
	case r.Method == http.MethodDelete:
		for i, rec := range f.records[collection] {
			if rec.Id == id {
				f.records[collection] = append(f.records[collection][:i], f.records[collection][i+1:]...)
				writeJSON(w, http.StatusOK, deleteResponse{Id: id, Deleted: true})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]string{"type": "NOT_FOUND", "message": "no such record"}})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setupClient(t *testing.T, handler http.Handler, pageSize int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(models.GatewayConfig{
		BaseURL:        server.URL,
		APIKey:         "key123",
		BaseId:         "app1",
		MaxRetries:     2,
		RetryWait:      time.Millisecond,
		RetryMaxWait:   5 * time.Millisecond,
		CallTimeout:    5 * time.Second,
		RemotePageSize: pageSize,
	})
	require.NoError(t, err)
	return client
}

func TestClient_CRUDAndPagination(t *testing.T) {
	fake := newFakeTableService()
	client := setupClient(t, fake, 2)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := client.Create(ctx, "Meal Cards", map[string]any{models.FieldRemainingMeals: i})
		require.NoError(t, err)
		ids = append(ids, rec.Id)
	}

	records, err := client.ListAll(ctx, "Meal Cards")
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, ids[i], r.Id)
		assert.Equal(t, i, r.Int(models.FieldRemainingMeals))
	}

	updated, err := client.Update(ctx, "Meal Cards", ids[1], map[string]any{models.FieldRemainingMeals: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Int(models.FieldRemainingMeals))

	got, err := client.Get(ctx, "Meal Cards", ids[1])
	require.NoError(t, err)
	assert.Equal(t, 9, got.Int(models.FieldRemainingMeals))

	require.NoError(t, client.Delete(ctx, "Meal Cards", ids[0]))
	records, err = client.ListAll(ctx, "Meal Cards")
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestClient_NotFound(t *testing.T) {
	client := setupClient(t, newFakeTableService(), 10)
	ctx := context.Background()

	_, err := client.Get(ctx, "Reservations", "recMissing")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	err = client.Delete(ctx, "Reservations", "recMissing")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestClient_RetriesRateLimit(t *testing.T) {
	fake := newFakeTableService()
	fake.throttle.Store(2)
	client := setupClient(t, fake, 10)

	rec, err := client.Create(context.Background(), "Tickets", map[string]any{models.FieldFirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.String(models.FieldFirstName))
	assert.EqualValues(t, 3, fake.calls.Load())
}

func TestClient_PersistentRateLimitIsUnavailable(t *testing.T) {
	fake := newFakeTableService()
	fake.throttle.Store(100)
	client := setupClient(t, fake, 10)

	_, err := client.ListAll(context.Background(), "Tickets")
	assert.ErrorIs(t, err, store.ErrGatewayUnavailable)
	assert.EqualValues(t, 3, fake.calls.Load())
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	client := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), 10)

	_, err := client.ListAll(context.Background(), "Tickets")
	assert.ErrorIs(t, err, store.ErrGatewayUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_CreateServerErrorIsUncertain(t *testing.T) {
	fake := newFakeTableService()
	client := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the record is stored before the service fails
		fake.ServeHTTP(httptest.NewRecorder(), r)
		w.WriteHeader(http.StatusBadGateway)
	}), 10)

	_, err := client.Create(context.Background(), "Tickets", map[string]any{models.FieldFirstName: "Ada"})
	require.ErrorIs(t, err, store.ErrWriteUncertain)
	assert.NotErrorIs(t, err, store.ErrGatewayUnavailable)
	assert.EqualValues(t, 1, fake.calls.Load())
	assert.Len(t, fake.records["Tickets"], 1)
}

func TestClient_CreateDroppedConnectionIsUncertain(t *testing.T) {
	var calls atomic.Int32
	client := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}), 10)

	_, err := client.Create(context.Background(), "Tickets", map[string]any{models.FieldFirstName: "Ada"})
	require.ErrorIs(t, err, store.ErrWriteUncertain)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_CreateRefusedConnectionIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(models.GatewayConfig{
		BaseURL:      url,
		APIKey:       "key123",
		BaseId:       "app1",
		MaxRetries:   1,
		RetryWait:    time.Millisecond,
		RetryMaxWait: time.Millisecond,
		CallTimeout:  time.Second,
	})
	require.NoError(t, err)

	_, err = client.Create(context.Background(), "Tickets", map[string]any{models.FieldFirstName: "Ada"})
	require.ErrorIs(t, err, store.ErrGatewayUnavailable)
	assert.NotErrorIs(t, err, store.ErrWriteUncertain)
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := setupClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": map[string]string{"type": "INVALID_VALUE", "message": "unknown field"}})
	}), 10)

	_, err := client.Create(context.Background(), "Tickets", map[string]any{"Nope": 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "unknown field")
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewClient_RequiresSettings(t *testing.T) {
	_, err := NewClient(models.GatewayConfig{BaseURL: "http://localhost", BaseId: "app1"})
	assert.Error(t, err)
	_, err = NewClient(models.GatewayConfig{APIKey: "k"})
	assert.Error(t, err)
}
