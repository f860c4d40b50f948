package stores

import "time"

// CompiledUnitRecord is one row of the compiled_units table.
type CompiledUnitRecord struct {
	Hash       string    `json:"hash"`
	Path       string    `json:"path"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Stats summarizes the store contents.
type Stats struct {
	// Units is the number of stored compilations.
	Units int64 `json:"units"`

	// Paths is the number of distinct source paths.
	Paths int64 `json:"paths"`

	// Bytes is the total size of the stored text.
	Bytes int64 `json:"bytes"`

	// Oldest and Newest are the extreme last-used times. Zero when empty.
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}
