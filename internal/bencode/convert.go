package bencode

import (
	"fmt"
	"math"
)

// ValueOf converts a plain Go tree into a Value. It accepts signed and unsigned
// integers, strings, []byte, []string, []any, map[string]any, map[any]any and
// Values themselves. Anything else, a uint64 beyond int64, or a map key that is
// not a string yields an *EncodingError.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint64:
		return uintValue(t)
	case string:
		return String(t), nil
	case []byte:
		return String(t), nil
	case []string:
		list := make(List, len(t))
		for i, s := range t {
			list[i] = String(s)
		}
		return list, nil
	case []any:
		list := make(List, len(t))
		for i, item := range t {
			val, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			list[i] = val
		}
		return list, nil
	case map[string]any:
		d := make(Dict, len(t))
		for k, item := range t {
			val, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			d[k] = val
		}
		return d, nil
	case map[any]any:
		d := make(Dict, len(t))
		for k, item := range t {
			key, err := dictKey(k)
			if err != nil {
				return nil, err
			}
			val, err := ValueOf(item)
			if err != nil {
				return nil, err
			}
			d[key] = val
		}
		return d, nil
	case nil:
		return nil, &EncodingError{Value: v, Reason: "nil value"}
	default:
		return nil, &EncodingError{Value: v, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// Marshal is ValueOf followed by Encode.
func Marshal(v any) ([]byte, error) {
	val, err := ValueOf(v)
	if err != nil {
		return nil, err
	}
	return Encode(val)
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, &EncodingError{Value: u, Reason: "integer exceeds int64 range"}
	}
	return Int(u), nil
}

func dictKey(k any) (string, error) {
	switch t := k.(type) {
	case string:
		return t, nil
	default:
		return "", &EncodingError{Value: k, Reason: "dictionary key is not a byte string"}
	}
}
