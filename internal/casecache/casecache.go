// Package casecache keeps the last assigned-case and completed-case lists
// fetched from the backend so agents can browse them offline.
package casecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fieldverify/fieldsync/internal/store"
)

// KV keys owned by the cache.
const (
	KeyAssigned  = "cases_data"
	KeyTotal     = "total_cases"
	KeyFetchedAt = "cases_fetched_at"
	KeyCompleted = "completed_cases"
)

// Keys lists every KV key the cache writes. They are cleared on logout.
func Keys() []string {
	return []string{KeyAssigned, KeyTotal, KeyFetchedAt, KeyCompleted}
}

// KV is the key-value store the cache persists to. *store.KV satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Assigned is a cached assigned-case listing. Items are bank groups
// ({"cases": [...]}) or individual cases, exactly as the backend sent them.
type Assigned struct {
	Items     []json.RawMessage
	Total     int
	FetchedAt time.Time
}

// Cache reads and writes cached case lists.
type Cache struct {
	kv      KV
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New returns a Cache over kv.
func New(kv KV, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{kv: kv, logger: logger, nowFunc: time.Now}
}

// SaveAssigned replaces the cached assigned list and returns its case count.
func (c *Cache) SaveAssigned(ctx context.Context, items []json.RawMessage) (int, error) {
	if items == nil {
		items = []json.RawMessage{}
	}

	total := countCases(items)

	if err := c.writeAssigned(ctx, items, total); err != nil {
		return 0, err
	}

	if err := c.kv.Set(ctx, KeyFetchedAt, store.FormatTime(c.nowFunc())); err != nil {
		return 0, fmt.Errorf("casecache: saving fetch time: %w", err)
	}

	c.logger.Debug("assigned cases cached", slog.Int("items", len(items)), slog.Int("total", total))

	return total, nil
}

func (c *Cache) writeAssigned(ctx context.Context, items []json.RawMessage, total int) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("casecache: encoding cases: %w", err)
	}

	if err := c.kv.Set(ctx, KeyAssigned, string(data)); err != nil {
		return fmt.Errorf("casecache: saving cases: %w", err)
	}

	if err := c.kv.Set(ctx, KeyTotal, strconv.Itoa(total)); err != nil {
		return fmt.Errorf("casecache: saving total: %w", err)
	}

	return nil
}

// LoadAssigned returns the cached list, or nil when nothing is cached.
func (c *Cache) LoadAssigned(ctx context.Context) (*Assigned, error) {
	raw, ok, err := c.kv.Get(ctx, KeyAssigned)
	if err != nil {
		return nil, fmt.Errorf("casecache: reading cases: %w", err)
	}

	if !ok {
		return nil, nil //nolint:nilnil // nothing cached
	}

	a := &Assigned{}
	if err := json.Unmarshal([]byte(raw), &a.Items); err != nil {
		return nil, fmt.Errorf("casecache: decoding cases: %w", err)
	}

	if v, ok, err := c.kv.Get(ctx, KeyTotal); err == nil && ok {
		a.Total, _ = strconv.Atoi(v)
	}

	if v, ok, err := c.kv.Get(ctx, KeyFetchedAt); err == nil && ok {
		a.FetchedAt, _ = store.ParseTime(v)
	}

	return a, nil
}

// RemoveCase drops every cached case whose id or case_id equals caseID,
// removes bank groups left empty, and recomputes the total. It returns the
// number of cases removed. An empty caseID or an empty cache removes
// nothing.
func (c *Cache) RemoveCase(ctx context.Context, caseID string) (int, error) {
	if caseID == "" {
		return 0, nil
	}

	a, err := c.LoadAssigned(ctx)
	if err != nil || a == nil {
		return 0, err
	}

	kept := make([]json.RawMessage, 0, len(a.Items))
	removed := 0

	for _, item := range a.Items {
		out, n, keep, err := filterItem(item, caseID)
		if err != nil {
			return 0, err
		}

		removed += n

		if keep {
			kept = append(kept, out)
		}
	}

	if removed == 0 {
		return 0, nil
	}

	if err := c.writeAssigned(ctx, kept, countCases(kept)); err != nil {
		return 0, err
	}

	c.logger.Debug("removed case from cache", slog.String("case_id", caseID), slog.Int("removed", removed))

	return removed, nil
}

// filterItem removes matching cases from one list item. A group is kept
// only while it still has cases; a bare case is kept unless it matches.
func filterItem(item json.RawMessage, caseID string) (json.RawMessage, int, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		return item, 0, true, nil
	}

	cases, isGroup := arrayField(obj, "cases")
	if !isGroup {
		if matches(obj, caseID) {
			return nil, 1, false, nil
		}

		return item, 0, true, nil
	}

	filtered := filterCases(cases, caseID)
	removed := len(cases) - len(filtered)

	if len(filtered) == 0 {
		return nil, removed, false, nil
	}

	if removed == 0 {
		return item, 0, true, nil
	}

	if err := setField(obj, "cases", filtered); err != nil {
		return nil, 0, false, err
	}

	if err := setField(obj, "caseCount", len(filtered)); err != nil {
		return nil, 0, false, err
	}

	if raw, ok := obj["rawData"]; ok {
		var rawData map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rawData); err == nil {
			if inner, ok := arrayField(rawData, "cases"); ok {
				if err := setField(rawData, "cases", filterCases(inner, caseID)); err != nil {
					return nil, 0, false, err
				}

				if err := setField(obj, "rawData", rawData); err != nil {
					return nil, 0, false, err
				}
			}
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, 0, false, fmt.Errorf("casecache: encoding group: %w", err)
	}

	return out, removed, true, nil
}

func filterCases(cases []json.RawMessage, caseID string) []json.RawMessage {
	kept := make([]json.RawMessage, 0, len(cases))

	for _, raw := range cases {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil && matches(obj, caseID) {
			continue
		}

		kept = append(kept, raw)
	}

	return kept
}

func matches(obj map[string]json.RawMessage, caseID string) bool {
	return scalar(obj["id"]) == caseID || scalar(obj["case_id"]) == caseID
}

func arrayField(obj map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok {
		return nil, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, false
	}

	return items, true
}

func setField(obj map[string]json.RawMessage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("casecache: encoding %s: %w", key, err)
	}

	obj[key] = data

	return nil
}

// countCases sums caseCount (or the length of cases) over groups, counting
// each bare case as one.
func countCases(items []json.RawMessage) int {
	total := 0

	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}

		cases, isGroup := arrayField(obj, "cases")
		if !isGroup {
			total++
			continue
		}

		if n, err := strconv.Atoi(scalar(obj["caseCount"])); err == nil && n > 0 {
			total += n
			continue
		}

		total += len(cases)
	}

	return total
}

// Flatten returns the individual cases of a listing, expanding bank groups.
func Flatten(items []json.RawMessage) []json.RawMessage {
	var out []json.RawMessage

	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}

		if cases, isGroup := arrayField(obj, "cases"); isGroup {
			out = append(out, cases...)
			continue
		}

		out = append(out, item)
	}

	return out
}

// scalar renders a JSON string or number as text; anything else is "".
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}
