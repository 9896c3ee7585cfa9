package vault

import "fmt"

const (
	DefaultMaxLTVBps      uint64 = 5_000
	DefaultReferencePrice uint64 = 1
)

// Params fixes the LTV ceiling and the collateral valuation for the lifetime
// of a ledger.
type Params struct {
	MaxLTVBps      uint64 `json:"maxLtvBps" toml:"MaxLTVBps"`
	ReferencePrice uint64 `json:"referencePrice" toml:"ReferencePrice"`
}

// DefaultParams returns a 50% ceiling at a 1:1 reference price.
func DefaultParams() Params {
	return Params{MaxLTVBps: DefaultMaxLTVBps, ReferencePrice: DefaultReferencePrice}
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	if p.MaxLTVBps == 0 {
		p.MaxLTVBps = DefaultMaxLTVBps
	}
	if p.ReferencePrice == 0 {
		p.ReferencePrice = DefaultReferencePrice
	}
	return p
}

// Validate rejects ceilings above 100%.
func (p Params) Validate() error {
	if p.MaxLTVBps == 0 || p.MaxLTVBps > basisPoints {
		return fmt.Errorf("%w: max ltv %d bps outside (0, %d]", ErrInvalidParams, p.MaxLTVBps, basisPoints)
	}
	if p.ReferencePrice == 0 {
		return fmt.Errorf("%w: reference price must be positive", ErrInvalidParams)
	}
	return nil
}
