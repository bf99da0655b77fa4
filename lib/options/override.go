package options

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/thanos/couchbase-ex/lib/cberr"
)

// --------------------------------------------------------------------------
// Override Structure
// --------------------------------------------------------------------------

// Override is the per-call overlay: nil fields inherit the resolved
// defaults, non-nil fields replace them. QueryParams follows slice
// semantics, a nil slice inherits and a non-nil (even empty) one replaces.
type Override struct {
	Bucket              *string     `mapstructure:"bucket"`
	TimeoutMS           *int64      `mapstructure:"timeout_ms"`
	ExpirySeconds       *int64      `mapstructure:"expiry_s"`
	Durability          *Durability `mapstructure:"durability"`
	QueryParams         []any       `mapstructure:"query_params"`
	PoolSize            *int        `mapstructure:"pool_size"`
	ConnectionTimeoutMS *int64      `mapstructure:"connection_timeout_ms"`
	QueryTimeoutMS      *int64      `mapstructure:"query_timeout_ms"`
	OperationTimeoutMS  *int64      `mapstructure:"operation_timeout_ms"`
}

// Validate checks every explicitly supplied field. Unlike the resolved
// Options, an explicit zero here is an error, not "unset": a caller
// passing timeout_ms=0 asked for something meaningless.
func (ov *Override) Validate() error {
	if ov == nil {
		return nil
	}
	if ov.Bucket != nil && *ov.Bucket == "" {
		return cberr.New(cberr.ReasonInvalidOptions, "options: bucket must not be empty")
	}
	if ov.TimeoutMS != nil && *ov.TimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: timeout_ms must be > 0, got %d", *ov.TimeoutMS)
	}
	if ov.ExpirySeconds != nil && *ov.ExpirySeconds < 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: expiry_s must be >= 0, got %d", *ov.ExpirySeconds)
	}
	if ov.Durability != nil && !ov.Durability.valid() {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: durability must be one of none, majority, majority_and_persist, persist_to_majority, got %d", *ov.Durability)
	}
	if ov.PoolSize != nil && *ov.PoolSize <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: pool_size must be > 0, got %d", *ov.PoolSize)
	}
	if ov.ConnectionTimeoutMS != nil && *ov.ConnectionTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: connection_timeout_ms must be > 0, got %d", *ov.ConnectionTimeoutMS)
	}
	if ov.QueryTimeoutMS != nil && *ov.QueryTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: query_timeout_ms must be > 0, got %d", *ov.QueryTimeoutMS)
	}
	if ov.OperationTimeoutMS != nil && *ov.OperationTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: operation_timeout_ms must be > 0, got %d", *ov.OperationTimeoutMS)
	}
	return nil
}

// --------------------------------------------------------------------------
// Override construction
// --------------------------------------------------------------------------

// durabilityHook lets mapstructure decode durability levels given as their
// wire strings ("majority", ...).
func durabilityHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to == reflect.TypeOf(Durability(0)) && from.Kind() == reflect.String {
		return ParseDurability(data.(string))
	}
	return data, nil
}

// FromMap decodes a loosely typed override map. Unknown keys are a
// validation error, never silently dropped: a typo in an option name must
// not change call semantics quietly.
func FromMap(m map[string]any) (*Override, error) {
	var ov Override
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &ov,
		ErrorUnused: true,
		DecodeHook:  durabilityHook,
	})
	if err != nil {
		return nil, cberr.Newf(cberr.ReasonInvalidOptions, "options: %v", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, cberr.Newf(cberr.ReasonInvalidOptions, "options: %v", err)
	}
	return &ov, nil
}

// --------------------------------------------------------------------------
// Merge & Resolve
// --------------------------------------------------------------------------

// Merge combines two overrides field-wise; b's non-nil values win. Both
// inputs stay untouched.
func Merge(a, b *Override) *Override {
	if a == nil && b == nil {
		return nil
	}
	out := Override{}
	if a != nil {
		out = *a
	}
	if b == nil {
		return &out
	}
	if b.Bucket != nil {
		out.Bucket = b.Bucket
	}
	if b.TimeoutMS != nil {
		out.TimeoutMS = b.TimeoutMS
	}
	if b.ExpirySeconds != nil {
		out.ExpirySeconds = b.ExpirySeconds
	}
	if b.Durability != nil {
		out.Durability = b.Durability
	}
	if b.QueryParams != nil {
		out.QueryParams = b.QueryParams
	}
	if b.PoolSize != nil {
		out.PoolSize = b.PoolSize
	}
	if b.ConnectionTimeoutMS != nil {
		out.ConnectionTimeoutMS = b.ConnectionTimeoutMS
	}
	if b.QueryTimeoutMS != nil {
		out.QueryTimeoutMS = b.QueryTimeoutMS
	}
	if b.OperationTimeoutMS != nil {
		out.OperationTimeoutMS = b.OperationTimeoutMS
	}
	return &out
}

// Resolve applies ov on top of the process-wide defaults and validates the
// result. A nil override resolves to the validated defaults. The returned
// Options shares no pointers with either input.
func Resolve(defaults Options, ov *Override) (Options, error) {
	if err := ov.Validate(); err != nil {
		return Options{}, err
	}

	out := defaults
	if defaults.ExpirySeconds != nil {
		v := *defaults.ExpirySeconds
		out.ExpirySeconds = &v
	}
	if ov != nil {
		if ov.Bucket != nil {
			out.Bucket = *ov.Bucket
		}
		if ov.TimeoutMS != nil {
			out.TimeoutMS = *ov.TimeoutMS
		}
		if ov.ExpirySeconds != nil {
			v := *ov.ExpirySeconds
			out.ExpirySeconds = &v
		}
		if ov.Durability != nil {
			out.Durability = *ov.Durability
		}
		if ov.QueryParams != nil {
			out.QueryParams = append([]any(nil), ov.QueryParams...)
		}
		if ov.PoolSize != nil {
			out.PoolSize = *ov.PoolSize
		}
		if ov.ConnectionTimeoutMS != nil {
			out.ConnectionTimeoutMS = *ov.ConnectionTimeoutMS
		}
		if ov.QueryTimeoutMS != nil {
			out.QueryTimeoutMS = *ov.QueryTimeoutMS
		}
		if ov.OperationTimeoutMS != nil {
			out.OperationTimeoutMS = *ov.OperationTimeoutMS
		}
	}

	if err := out.Validate(); err != nil {
		return Options{}, err
	}
	return out, nil
}
