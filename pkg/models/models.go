package models

import "time"

// WorkItem is one entity waiting in a frontier queue
type WorkItem[D any] struct {
	Key  string
	Data D
}

// FrontierStats is a snapshot of a frontier's bookkeeping
type FrontierStats struct {
	Kind       Kind `json:"kind" yaml:"kind"`
	Expected   int  `json:"expected" yaml:"expected"`
	Unexpected int  `json:"unexpected" yaml:"unexpected"`
	Queued     int  `json:"queued" yaml:"queued"`
	Done       int  `json:"done" yaml:"done"`
	Missing    int  `json:"missing" yaml:"missing"`
	Error      int  `json:"error" yaml:"error"`
}

// Total is the number of items discovered so far.
func (s FrontierStats) Total() int {
	return s.Expected + s.Unexpected
}

// AssetStats counts what the asset pipeline did during a run
type AssetStats struct {
	Deferred     int64 `json:"deferred" yaml:"deferred"`         // Distinct paths scheduled
	Written      int64 `json:"written" yaml:"written"`           // Items added to the archive
	Deduplicated int64 `json:"deduplicated" yaml:"deduplicated"` // Redirected to identical content
	CacheHits    int64 `json:"cache_hits" yaml:"cache_hits"`
	Missing      int64 `json:"missing" yaml:"missing"` // Redirected to the missing image
}

// CacheEntry is a normalized asset stored in the artifact cache
type CacheEntry struct {
	Ident          string    `json:"ident"`           // Upstream version identifier (ETag, Last-Modified...)
	EncoderVersion int       `json:"encoder_version"` // Normalizer version that produced Data
	Mimetype       string    `json:"mimetype"`
	Data           []byte    `json:"data"`
	StoredAt       time.Time `json:"stored_at"`
}

// Progress is the document written to the stats file
type Progress struct {
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
