package models

import (
	"sort"
	"time"
)

// Record is one flat JSON object as returned by the open-data API. Values are
// kept in their decoded form: string, json.Number, bool, nil, or nested
// map/slice when the API embeds structured columns such as location.
type Record map[string]interface{}

// Page is the decoded body of a single paginated request.
type Page []Record

// CrimeBatch holds every record fetched for one run window, in fetch order.
type CrimeBatch struct {
	BatchID     string
	Source      string
	WindowStart time.Time
	WindowEnd   time.Time
	Records     []Record
	RecordCount int
	Pages       int
	FetchedAt   time.Time
}

// Append adds a page to the batch, keeping fetch order.
func (b *CrimeBatch) Append(page Page) {
	b.Records = append(b.Records, page...)
	b.RecordCount = len(b.Records)
	b.Pages++
}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
