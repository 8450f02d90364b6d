package fetcher

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/genesis-dao/daosync/chain"
)

// Event attributes and extrinsic arguments arrive as generic JSON, and the
// node is not consistent about number encodings: the same field shows up as
// a JSON number, a decimal string or a hex string depending on the pallet.
// These helpers normalize the lookups; each takes alternative key names and
// returns the first present, decodable value.

func attrString(attrs chain.Args, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			return s, true
		case json.Number:
			return s.String(), true
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), true
		}
	}
	return "", false
}

func attrInt64(attrs chain.Args, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt64(v); ok {
			return n, true
		}
	}
	return 0, false
}

func attrUint64(attrs chain.Args, keys ...string) (uint64, bool) {
	for _, key := range keys {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		if n, ok := toUint64(v); ok {
			return n, true
		}
	}
	return 0, false
}

func attrBool(attrs chain.Args, keys ...string) (bool, bool) {
	for _, key := range keys {
		v, ok := attrs[key]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			switch strings.ToLower(b) {
			case "true", "yes":
				return true, true
			case "false", "no":
				return false, true
			}
		}
	}
	return false, false
}

func attrMap(attrs chain.Args, keys ...string) (map[string]interface{}, bool) {
	for _, key := range keys {
		if m, ok := toArgs(attrs[key]); ok {
			return m, true
		}
	}
	return nil, false
}

func toArgs(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case chain.Args:
		return m, true
	}
	return nil, false
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		parsed, err := n.Int64()
		return parsed, err == nil
	case string:
		return parseIntString(n)
	}
	return 0, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		parsed, err := strconv.ParseUint(n.String(), 10, 64)
		return parsed, err == nil
	case string:
		if strings.HasPrefix(n, "0x") {
			parsed, err := strconv.ParseUint(n[2:], 16, 64)
			return parsed, err == nil
		}
		parsed, err := strconv.ParseUint(n, 10, 64)
		return parsed, err == nil
	}
	return 0, false
}

func parseIntString(s string) (int64, bool) {
	if strings.HasPrefix(s, "0x") {
		parsed, err := strconv.ParseInt(s[2:], 16, 64)
		return parsed, err == nil
	}
	parsed, err := strconv.ParseInt(s, 10, 64)
	return parsed, err == nil
}
