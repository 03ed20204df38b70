package domain

// SaveOptions tunes single/multiple save behavior.
type SaveOptions struct {
	// Deep mirrors the read-side spec: after saving, the result can be
	// re-fetched with this population tree applied.
	Deep []DeepSpec `json:"deep,omitempty"`
	// SkipValidation bypasses field validations (conversions still apply).
	SkipValidation bool `json:"skipValidation,omitempty"`
}

// UpdateOptions tunes updateById/replaceById behavior.
type UpdateOptions struct {
	// SkipConcurrencyControl bypasses the version check even when the schema
	// declares a concurrency-control field. Defaults to true for backward
	// compatibility; false is the safety-conscious mode.
	SkipConcurrencyControl *bool `json:"skipConcurrencyControl,omitempty"`
	SkipValidation         bool  `json:"skipValidation,omitempty"`
}

// SkipGuard resolves the tri-state SkipConcurrencyControl flag.
func (o UpdateOptions) SkipGuard() bool {
	if o.SkipConcurrencyControl == nil {
		return true
	}
	return *o.SkipConcurrencyControl
}

// MasterSaveOptions tunes the cascading save walk.
type MasterSaveOptions struct {
	SkipConcurrencyControl *bool `json:"skipConcurrencyControl,omitempty"`
	SkipValidation         bool  `json:"skipValidation,omitempty"`
}

// SkipGuard resolves the tri-state SkipConcurrencyControl flag.
func (o MasterSaveOptions) SkipGuard() bool {
	if o.SkipConcurrencyControl == nil {
		return true
	}
	return *o.SkipConcurrencyControl
}
