package casecache

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldverify/fieldsync/internal/store"
)

// testLogWriter routes log output through t.Log.
type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestCache(t *testing.T) (*Cache, *store.KV) {
	t.Helper()

	s, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "fieldsync.db"), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	kv := s.KV()
	c := New(kv, testLogger(t))
	c.nowFunc = func() time.Time { return time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC) }

	return c, kv
}

func items(t *testing.T, raw string) []json.RawMessage {
	t.Helper()

	var out []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &out))

	return out
}

const groupedCases = `[
	{"bank":"HDFC","caseCount":2,"cases":[{"id":1,"case_id":"C-1"},{"id":2,"case_id":"C-2"}],
	 "rawData":{"cases":[{"id":1},{"id":2}],"bank_id":4}},
	{"bank":"SBI","caseCount":1,"cases":[{"id":3,"case_id":"C-3"}]}
]`

func TestSaveLoadAssigned(t *testing.T) {
	c, _ := newTestCache(t)

	total, err := c.SaveAssigned(t.Context(), items(t, groupedCases))
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Len(t, a.Items, 2)
	assert.Equal(t, 3, a.Total)
	assert.True(t, a.FetchedAt.Equal(time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)))
}

func TestLoadAssigned_Empty(t *testing.T) {
	c, _ := newTestCache(t)

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestRemoveCase_ByIDKeepsGroup(t *testing.T) {
	c, kv := newTestCache(t)
	_, err := c.SaveAssigned(t.Context(), items(t, groupedCases))
	require.NoError(t, err)

	removed, err := c.RemoveCase(t.Context(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	require.Len(t, a.Items, 2)
	assert.Equal(t, 2, a.Total)

	var group struct {
		Bank      string            `json:"bank"`
		CaseCount int               `json:"caseCount"`
		Cases     []json.RawMessage `json:"cases"`
		RawData   struct {
			Cases  []json.RawMessage `json:"cases"`
			BankID int               `json:"bank_id"`
		} `json:"rawData"`
	}
	require.NoError(t, json.Unmarshal(a.Items[0], &group))
	assert.Equal(t, "HDFC", group.Bank)
	assert.Equal(t, 1, group.CaseCount)
	require.Len(t, group.Cases, 1)
	assert.JSONEq(t, `{"id":2,"case_id":"C-2"}`, string(group.Cases[0]))
	assert.Len(t, group.RawData.Cases, 1)
	assert.Equal(t, 4, group.RawData.BankID)

	total, ok, err := kv.Get(t.Context(), KeyTotal)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", total)
}

func TestRemoveCase_ByCaseIDDropsEmptyGroup(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.SaveAssigned(t.Context(), items(t, groupedCases))
	require.NoError(t, err)

	removed, err := c.RemoveCase(t.Context(), "C-3")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	require.Len(t, a.Items, 1)
	assert.Equal(t, 2, a.Total)
}

func TestRemoveCase_BareCases(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.SaveAssigned(t.Context(), items(t, `[{"id":"a"},{"id":"b","case_id":"X"}]`))
	require.NoError(t, err)

	removed, err := c.RemoveCase(t.Context(), "X")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Total)
}

func TestRemoveCase_NoMatchOrEmpty(t *testing.T) {
	c, _ := newTestCache(t)

	removed, err := c.RemoveCase(t.Context(), "1")
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = c.SaveAssigned(t.Context(), items(t, groupedCases))
	require.NoError(t, err)

	removed, err = c.RemoveCase(t.Context(), "nope")
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = c.RemoveCase(t.Context(), "")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCompletedCache(t *testing.T) {
	c, _ := newTestCache(t)

	require.NoError(t, c.SaveCompleted(t.Context(), "2026-05-30", items(t, `[{"id":1}]`)))
	require.NoError(t, c.SaveCompleted(t.Context(), "", items(t, `[{"id":1},{"id":2}]`)))

	day, fetched, ok, err := c.LoadCompleted(t.Context(), "2026-05-30")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, day, 1)
	assert.False(t, fetched.IsZero())

	all, _, ok, err := c.LoadCompleted(t.Context(), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, all, 2)

	_, _, ok, err = c.LoadCompleted(t.Context(), "2020-01-01")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c, kv := newTestCache(t)
	_, err := c.SaveAssigned(t.Context(), items(t, groupedCases))
	require.NoError(t, err)
	require.NoError(t, c.SaveCompleted(t.Context(), "", nil))
	require.NoError(t, kv.Set(t.Context(), "user_data", "{}"))

	require.NoError(t, c.Clear(t.Context()))

	a, err := c.LoadAssigned(t.Context())
	require.NoError(t, err)
	assert.Nil(t, a)

	_, ok, err := kv.Get(t.Context(), KeyCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = kv.Get(t.Context(), "user_data")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFlatten(t *testing.T) {
	flat := Flatten(items(t, `[{"cases":[{"id":1},{"id":2}]},{"id":3},"junk"]`))
	require.Len(t, flat, 3)
	assert.JSONEq(t, `{"id":3}`, string(flat[2]))
}

func TestSummarize(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 17,
		"applicant": {"name": "Ravi Kumar"},
		"bank": {"name": "HDFC"},
		"product": {"name": "Home Loan"},
		"fl_type": "rv",
		"residence_house_no": "12",
		"residence_colony_details": "Green Park",
		"residence_city": "Delhi",
		"completed_at": "2026-05-30T10:11:12Z"
	}`)

	s := Summarize(raw, "Completed")
	assert.Equal(t, Summary{
		ID:        "17",
		Title:     "HDFC Home Loan",
		FLType:    "RV",
		Applicant: "Ravi Kumar",
		Status:    "Completed",
		Address:   "12 Green Park, Delhi",
		Submitted: "2026-05-30",
	}, s)
}

func TestSummarize_Fallbacks(t *testing.T) {
	s := Summarize(json.RawMessage(`{"case_id":"C-9","bank_name":"SBI","status":"pending","business_colony_details":"MIDC","business_city":"Pune"}`), "")
	assert.Equal(t, "C-9", s.ID)
	assert.Equal(t, "SBI N/A", s.Title)
	assert.Equal(t, "N/A", s.FLType)
	assert.Equal(t, "pending", s.Status)
	assert.Equal(t, "MIDC, Pune", s.Address)
	assert.Empty(t, s.Submitted)
}
