package persistence

import (
	"github.com/tgathuku/go-hifadhi/core/entity"
)

// FindOptions controls sorting and pagination for list queries.
type FindOptions struct {
	// Sort maps field names to 1 (ascending) or -1 (descending).
	Sort  map[string]int
	Skip  int64
	Limit int64
}

// FindResult is the paginated outcome of a list query. Total is counted over
// the same filter as the returned page.
type FindResult struct {
	Entities  []entity.Entity `json:"entities"`
	Total     int64           `json:"total"`
	Page      int64           `json:"page"`
	PageCount int64           `json:"page_count"`
}

// paginate derives page arithmetic from skip/limit and a total count.
func paginate(total int64, opts FindOptions) (page, pageCount int64) {
	if opts.Limit <= 0 {
		return 1, 1
	}
	page = opts.Skip/opts.Limit + 1
	pageCount = (total + opts.Limit - 1) / opts.Limit
	return page, pageCount
}

// BulkWriteCounts aggregates the per-document outcomes of a bulk write.
// InsertedCount is derived: every document that entered the collection in
// this call, i.e. the driver's inserted count plus the upsert-inserts that
// UpsertedCount also reports on its own. For N documents with distinct match
// keys, MatchedCount + InsertedCount == N.
type BulkWriteCounts struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	InsertedCount int64 `json:"insertedCount"`
	DeletedCount  int64 `json:"deletedCount"`
}

// BulkWriteResult carries the aggregate counts of a bulk upsert plus the
// affected documents re-fetched by their match keys.
type BulkWriteResult struct {
	Counts   BulkWriteCounts `json:"counts"`
	Entities []entity.Entity `json:"entities"`
}

// CloneResult reports the outcome of a clone-to-collection operation. The
// counts approximate the matched source count; exact per-document success is
// not reported by the merge stage. Callers must inspect Errors before
// trusting the counts.
type CloneResult struct {
	ProcessedCount int64        `json:"processedCount"`
	InsertedCount  int64        `json:"insertedCount"`
	Errors         []CloneError `json:"errors,omitempty"`
}

// PopulateSpec describes a foreign-key-style reference to resolve into an
// embedded result. LocalField holds the referenced document's identity;
// the resolved document is embedded under As.
type PopulateSpec struct {
	From       string
	LocalField string
	As         string
}
