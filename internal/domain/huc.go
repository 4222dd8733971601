package domain

// WatershedCode is one row of the input code list: the HUC12 identifier plus
// every other column of the row, carried through untouched.
type WatershedCode struct {
	HUC12    string            `json:"huc12"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
