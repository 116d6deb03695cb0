package metrics

// Operation names accepted by the Recorder implementations.
const (
	// OpDbQuery represents ledger read operations.
	OpDbQuery = "db_query"
	// OpDbUpsert represents ledger insert-or-update operations.
	OpDbUpsert = "db_upsert"
	// OpDbUpdate represents ledger update operations.
	OpDbUpdate = "db_update"
	// OpDbDelete represents ledger delete operations.
	OpDbDelete = "db_delete"
	// OpTransaction represents database transactions.
	OpTransaction = "transaction"

	// OpFetch represents upstream artwork downloads.
	OpFetch = "fetch"
	// OpTranscode represents generation of the five variants.
	OpTranscode = "transcode"
	// OpStore represents variant file writes.
	OpStore = "store"
	// OpRateWait represents time spent waiting for a rate limit token.
	OpRateWait = "rate_wait"
	// OpCacheArtwork represents one full CacheArtwork call.
	OpCacheArtwork = "cache_artwork"
	// OpCoverArtLookup represents a Cover Art Archive lookup.
	OpCoverArtLookup = "coverart_lookup"
)

// Label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"

	TierMemory = "memory"
	TierLedger = "ledger"
	TierMiss   = "miss"

	TableArtworkCache = "artwork_cache"
	TableUnknown      = "unknown"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart1KB is the starting bucket for 1KB histograms (1KB to ~1GB range).
	BucketStart1KB = 1024.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketFactor4 is used for byte size histograms.
	BucketFactor4 = 4

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
