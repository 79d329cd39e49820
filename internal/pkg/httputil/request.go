package httputil

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
)

// maxBodyBytes caps request bodies read by ReadFields.
const maxBodyBytes = 64 << 10

// ReadFields extracts the named string fields from either a JSON object body
// or a URL-encoded form, depending on Content-Type. Missing fields are "".
func ReadFields(r *http.Request, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		for _, k := range keys {
			v, ok := body[k]
			if !ok || v == nil {
				out[k] = ""
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %q must be a string", k)
			}
			out[k] = s
		}
		return out, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	for _, k := range keys {
		out[k] = r.PostForm.Get(k)
	}
	return out, nil
}
