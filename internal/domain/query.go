package domain

// QueryFormat is the generic read request interpreted by the query
// translator. Sort and Select use mongo-style maps: sort values 1/-1,
// select values 1 (include) or 0 (exclude).
type QueryFormat struct {
	Find     Filter         `json:"find,omitempty"`
	FindJoin []FindJoin     `json:"find_join,omitempty"`
	Sort     map[string]int `json:"sort,omitempty"`
	Skip     int64          `json:"skip,omitempty"`
	Limit    int64          `json:"limit,omitempty"`
	Select   map[string]int `json:"select,omitempty"`
	Deep     []DeepSpec     `json:"deep,omitempty"`

	// GetTotalCount requests a separate count sharing Find/FindJoin but
	// ignoring Skip/Limit, returned in Response.TotalCount.
	GetTotalCount bool `json:"getTotalCount,omitempty"`
}

// FindJoin resolves ids from a related collection before applying them to the
// primary find as an $in constraint.
//
// Forward direction: run Find against the join collection, collect the values
// of FindKeyTarget from the matches, and constrain the primary find's
// SourceKey by that id set. Reverse direction (FindIDSource non-empty): read
// the FindIDSource values from the join matches instead.
type FindJoin struct {
	Target  CollectionIdentity `json:"collection"`
	Find    Filter             `json:"find"`
	// SourceKey is the primary-collection field that receives the id-set
	// constraint. Defaults to the primary collection's primary key.
	SourceKey string `json:"find_key_source,omitempty"`
	// FindKeyTarget is the join-collection field whose values become the id
	// set. Defaults to SourceTablePrimaryKey.
	FindKeyTarget string `json:"find_key_target,omitempty"`
	// FindIDSource reads ids from this join-collection field to resolve the
	// reverse direction.
	FindIDSource string `json:"find_id_source,omitempty"`
	// SourceTablePrimaryKey disambiguates the join collection's primary key
	// when its schema declares none or several.
	SourceTablePrimaryKey string `json:"sourceTablePrimaryKey,omitempty"`
}

// FetchingTechnique selects how deep-population target rows are fetched.
type FetchingTechnique string

const (
	// FetchChunk batches source ids into $in queries (default, 1000 per
	// round-trip).
	FetchChunk FetchingTechnique = "chunk"
	// FetchOneByOne issues one query per parent row. Required whenever
	// Skip/Limit must apply per parent, which a batched query cannot express.
	FetchOneByOne FetchingTechnique = "one_by_one"
)

// DefaultChunkSize is the id-batch size for chunked deep population.
const DefaultChunkSize = 1000

// DeepSpec describes one relationship hop of a deep-population tree.
type DeepSpec struct {
	// SKey is the source field on the parent rows. For a virtual field this
	// is the virtual field's name.
	SKey string `json:"sKey"`
	// Target identifies the related collection. Empty fields inherit from
	// the schema's relationship metadata for SKey.
	Target CollectionIdentity `json:"collection"`
	// TKey is the target-collection field matched against the source values.
	// For virtual fields it may be left empty and inferred from the schema.
	TKey string `json:"tKey,omitempty"`

	Deep   []DeepSpec     `json:"deep,omitempty"`
	Find   Filter         `json:"find,omitempty"`
	Sort   map[string]int `json:"sort,omitempty"`
	Skip   int64          `json:"skip,omitempty"`
	Limit  int64          `json:"limit,omitempty"`
	Select map[string]int `json:"select,omitempty"`

	// IsMultiple attaches an array of matches; otherwise the first match (or
	// null) is attached.
	IsMultiple bool `json:"isMultiple,omitempty"`

	FetchingTechnique FetchingTechnique `json:"fetchingTechnique,omitempty"`
	ChunkSize         int               `json:"chunkSize,omitempty"`
}

// EffectiveChunkSize returns the configured chunk size or the default.
func (d DeepSpec) EffectiveChunkSize() int {
	if d.ChunkSize > 0 {
		return d.ChunkSize
	}
	return DefaultChunkSize
}

// AggregateStage is one stage of a backend-native aggregation pipeline.
type AggregateStage = Row
