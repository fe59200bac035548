// Package normalize canonicalizes tool-call arguments before they reach a
// tool server. It is pure: no I/O, no shared mutable state.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CityField is the argument key holding a free-text place name.
const CityField = "city"

// cityNames maps localized city names to the identifiers weather servers understand.
var cityNames = map[string]string{
	"北京": "Beijing",
	"上海": "Shanghai",
	"广州": "Guangzhou",
	"深圳": "Shenzhen",
	"香港": "Hong Kong",
	"澳门": "Macau",
	"台北": "Taipei",
	"杭州": "Hangzhou",
	"南京": "Nanjing",
	"成都": "Chengdu",
	"武汉": "Wuhan",
	"西安": "Xian",
	"重庆": "Chongqing",
	"青岛": "Qingdao",
	"厦门": "Xiamen",
	"苏州": "Suzhou",
	"天津": "Tianjin",
	"长沙": "Changsha",
	"郑州": "Zhengzhou",
	"大连": "Dalian",
}

// City returns the canonical identifier for a localized city name, or the
// name unchanged when it is not in the table.
func City(name string) string {
	if canonical, ok := cityNames[strings.TrimSpace(name)]; ok {
		return canonical
	}
	return name
}

// KnownCities returns a copy of the lookup table.
func KnownCities() map[string]string {
	out := make(map[string]string, len(cityNames))
	for k, v := range cityNames {
		out[k] = v
	}
	return out
}

// Arguments decodes raw tool arguments into a structured value and rewrites
// the city field. Input may be a mapping, a JSON document as string or bytes,
// or any other value. It never fails; input that cannot be decoded is kept as
// a plain string. The input is never mutated.
func Arguments(raw any) any {
	v := Value(raw)
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	city, ok := obj[CityField].(string)
	if !ok {
		return obj
	}
	if canonical := City(city); canonical != city {
		obj[CityField] = canonical
	}
	return obj
}

// CityOf extracts the city field from raw arguments, if present.
func CityOf(raw any) (string, bool) {
	obj, ok := Value(raw).(map[string]any)
	if !ok {
		return "", false
	}
	city, ok := obj[CityField].(string)
	return city, ok
}

// Value converts v into the closed set of structured values: nil, bool,
// float64, json.Number, string, []any and map[string]any. Decoded numbers are
// kept as json.Number so large integers reach tool servers unchanged. Strings and byte slices that hold
// a JSON document are decoded. The result never aliases v.
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return decodeString(t)
	case []byte:
		if decoded, ok := decode(t); ok {
			return decoded
		}
		return string(t)
	case json.RawMessage:
		if decoded, ok := decode(t); ok {
			return decoded
		}
		return string(t)
	case bool, float64, json.Number:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = structured(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = structured(item)
		}
		return out
	}
	return roundTrip(v)
}

// structured is Value without JSON-in-string decoding, used for nested
// elements so string values inside a mapping stay strings.
func structured(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case map[string]any, []any:
		return Value(t)
	case nil, bool, float64, json.Number:
		return t
	}
	return roundTrip(v)
}

func decodeString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '{', '[':
		if decoded, ok := decode([]byte(trimmed)); ok {
			return decoded
		}
	}
	return s
}

func decode(data []byte) (any, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, false
	}
	out, err := unmarshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// roundTrip maps arbitrary Go values (ints, typed maps, structs) through JSON.
// Values JSON cannot encode fall back to nil.
func roundTrip(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out, err := unmarshal(data)
	if err != nil {
		return nil
	}
	return out
}
