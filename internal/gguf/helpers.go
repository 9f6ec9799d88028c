package gguf

// Typed accessors over Metadata.KV. Integer getters accept any integer
// width, since writers disagree on the width of ids and lengths.

func lookup[T any](kv map[string]Value, key string) (T, bool) {
	var zero T
	v, ok := kv[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value.(T)
	return t, ok
}

func GetString(kv map[string]Value, key string) (string, bool) {
	return lookup[string](kv, key)
}

func GetInt64(kv map[string]Value, key string) (int64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	return asInt64(v.Value)
}

// GetUint64 rejects negative signed values.
func GetUint64(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	if u, ok := v.Value.(uint64); ok {
		return u, true
	}
	i, ok := asInt64(v.Value)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func GetInt(kv map[string]Value, key string) (int, bool) {
	v, ok := GetInt64(kv, key)
	return int(v), ok
}

// GetArray returns the array at key when every element has type T.
func GetArray[T any](kv map[string]Value, key string) ([]T, bool) {
	arr, ok := lookup[ArrayValue](kv, key)
	if !ok {
		return nil, false
	}
	out := make([]T, len(arr.Values))
	for i, item := range arr.Values {
		t, ok := item.(T)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	default:
		return 0, false
	}
}
