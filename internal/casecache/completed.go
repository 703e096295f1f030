package casecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldverify/fieldsync/internal/store"
)

// allDates is the cache slot for an unfiltered completed listing.
const allDates = "all"

type completedEntry struct {
	Items     []json.RawMessage `json:"items"`
	FetchedAt string            `json:"fetched_at"`
}

// SaveCompleted caches a completed-case listing for date ("" for all dates).
func (c *Cache) SaveCompleted(ctx context.Context, date string, items []json.RawMessage) error {
	entries, err := c.completedEntries(ctx)
	if err != nil {
		return err
	}

	if items == nil {
		items = []json.RawMessage{}
	}

	entries[completedSlot(date)] = completedEntry{Items: items, FetchedAt: store.FormatTime(c.nowFunc())}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("casecache: encoding completed cases: %w", err)
	}

	if err := c.kv.Set(ctx, KeyCompleted, string(data)); err != nil {
		return fmt.Errorf("casecache: saving completed cases: %w", err)
	}

	return nil
}

// LoadCompleted returns the cached listing for date and when it was fetched.
// The boolean is false when that date was never cached.
func (c *Cache) LoadCompleted(ctx context.Context, date string) ([]json.RawMessage, time.Time, bool, error) {
	entries, err := c.completedEntries(ctx)
	if err != nil {
		return nil, time.Time{}, false, err
	}

	e, ok := entries[completedSlot(date)]
	if !ok {
		return nil, time.Time{}, false, nil
	}

	fetched, _ := store.ParseTime(e.FetchedAt)

	return e.Items, fetched, true, nil
}

// Clear removes every cached list.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, Keys()...); err != nil {
		return fmt.Errorf("casecache: clearing: %w", err)
	}

	return nil
}

func (c *Cache) completedEntries(ctx context.Context) (map[string]completedEntry, error) {
	raw, ok, err := c.kv.Get(ctx, KeyCompleted)
	if err != nil {
		return nil, fmt.Errorf("casecache: reading completed cases: %w", err)
	}

	entries := map[string]completedEntry{}
	if !ok {
		return entries, nil
	}

	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.logger.Warn("discarding unreadable completed-case cache")
		return map[string]completedEntry{}, nil
	}

	return entries, nil
}

func completedSlot(date string) string {
	if date == "" {
		return allDates
	}

	return date
}

// Summary is the display view of one case from a listing.
type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	FLType    string `json:"fl_type"`
	Applicant string `json:"applicant"`
	Status    string `json:"status"`
	Address   string `json:"address"`
	Submitted string `json:"submitted"`
}

// caseFields is the subset of a backend case object shown in listings.
type caseFields struct {
	ID                  json.RawMessage `json:"id"`
	CaseID              json.RawMessage `json:"case_id"`
	ApplicantName       string          `json:"applicant_name"`
	CustomerName        string          `json:"customer_name"`
	Name                string          `json:"name"`
	Applicant           *named          `json:"applicant"`
	Bank                *named          `json:"bank"`
	BankName            string          `json:"bank_name"`
	Product             *named          `json:"product"`
	CustomName          string          `json:"custom_name"`
	BankProductName     string          `json:"bank_product_name"`
	FLType              string          `json:"fl_type"`
	Status              string          `json:"status"`
	ResidenceHouseNo    string          `json:"residence_house_no"`
	ResidenceColony     string          `json:"residence_colony_details"`
	ResidenceCity       string          `json:"residence_city"`
	BusinessHouseNumber string          `json:"business_house_number"`
	BusinessColony      string          `json:"business_colony_details"`
	BusinessCity        string          `json:"business_city"`
	SubmittedDate       string          `json:"submitted_date"`
	CompletedAt         string          `json:"completed_at"`
	EnqueryTime         string          `json:"enquery_time"`
	UpdatedAt           string          `json:"updated_at"`
	CreatedAt           string          `json:"created_at"`
}

type named struct {
	Name string `json:"name"`
}

func (n *named) name() string {
	if n == nil {
		return ""
	}

	return n.Name
}

// Summarize extracts the display fields of a case. defaultStatus is used
// when the case carries none ("Completed" for history listings).
func Summarize(raw json.RawMessage, defaultStatus string) Summary {
	var f caseFields
	_ = json.Unmarshal(raw, &f)

	s := Summary{
		ID:        firstNonEmpty(scalar(f.ID), scalar(f.CaseID)),
		Applicant: firstNonEmpty(f.ApplicantName, f.Applicant.name(), f.CustomerName, f.Name),
		Status:    firstNonEmpty(f.Status, defaultStatus),
		FLType:    firstNonEmpty(strings.ToUpper(f.FLType), "N/A"),
	}

	bank := firstNonEmpty(f.Bank.name(), f.BankName, "Unknown Bank")
	product := firstNonEmpty(f.Product.name(), f.CustomName, f.BankProductName, "N/A")
	s.Title = strings.TrimSpace(bank + " " + product)

	s.Address = firstNonEmpty(
		address(f.BusinessHouseNumber, f.BusinessColony, f.BusinessCity),
		address(f.ResidenceHouseNo, f.ResidenceColony, f.ResidenceCity),
		"Address not available",
	)

	submitted := firstNonEmpty(f.SubmittedDate, f.CompletedAt, f.EnqueryTime, f.UpdatedAt, f.CreatedAt)
	s.Submitted, _, _ = strings.Cut(submitted, "T")

	return s
}

func address(house, colony, city string) string {
	if colony == "" {
		return ""
	}

	return strings.TrimSpace(fmt.Sprintf("%s %s, %s", house, colony, city))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
