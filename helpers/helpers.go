package helpers

import "encoding/json"

// ToJsonString converts any value to its JSON string, or "" when it
// cannot be marshaled.
func ToJsonString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
