package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"healthassist/herr"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) *herr.Error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return herr.BadRequest(err, "invalid JSON body")
	}
	return nil
}
