package e2e

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

func unmarshalEvent(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

func decodeBody(resp *http.Response, v any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
