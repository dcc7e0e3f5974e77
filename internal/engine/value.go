package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// zeroValue is the initial value of a derived attribute before its producing
// rule first fires.
func zeroValue(a schema.Attribute) any {
	if a.Nullable {
		return nil
	}
	switch a.Type {
	case schema.TypeDecimal:
		return decimal.Zero
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeString:
		return ""
	case schema.TypeTime:
		return time.Time{}
	default:
		return nil
	}
}

// coerceValue normalizes a caller- or rule-supplied value to the canonical
// representation for the attribute's type.
func coerceValue(entity string, a schema.Attribute, v any) (any, error) {
	if v == nil {
		if !a.Nullable {
			return nil, shared.NewDomainError("NULL_NOT_ALLOWED", fmt.Sprintf("%s.%s cannot be null", entity, a.Name))
		}
		return nil, nil
	}
	switch a.Type {
	case schema.TypeDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d, nil
		case int:
			return decimal.NewFromInt(int64(d)), nil
		case int64:
			return decimal.NewFromInt(d), nil
		case float64:
			return decimal.NewFromFloat(d), nil
		case string:
			parsed, err := decimal.NewFromString(d)
			if err != nil {
				return nil, shared.NewDomainError("INVALID_VALUE", fmt.Sprintf("%s.%s: invalid decimal %q", entity, a.Name, d))
			}
			return parsed, nil
		}
	case schema.TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeTime:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	case schema.TypeRef:
		switch id := v.(type) {
		case uuid.UUID:
			return id, nil
		case string:
			parsed, err := uuid.Parse(id)
			if err != nil {
				return nil, shared.NewDomainError("INVALID_VALUE", fmt.Sprintf("%s.%s: invalid reference %q", entity, a.Name, id))
			}
			return parsed, nil
		}
	}
	return nil, shared.NewDomainError("INVALID_VALUE", fmt.Sprintf("%s.%s: unsupported value type %T", entity, a.Name, v))
}

// valuesEqual compares two canonical attribute values.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

// asDecimal extracts a decimal from a canonical value, treating null as zero.
func asDecimal(v any) decimal.Decimal {
	switch d := v.(type) {
	case decimal.Decimal:
		return d
	case int64:
		return decimal.NewFromInt(d)
	default:
		return decimal.Zero
	}
}
