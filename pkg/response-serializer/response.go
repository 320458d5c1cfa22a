package serializer

import (
	"encoding/json"
	"net/http"
)

// StoredResponse is a response as it is kept in the cache.
type StoredResponse struct {
	StatusCode int         `json:"status,omitempty"`
	Content    string      `json:"content"`
	Headers    http.Header `json:"headers"`
}

// StoredResponseToBytes serializes the response for storage.
// Transfer-Encoding is never stored.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	stored := sRes
	stored.Headers = sRes.Headers.Clone()
	if stored.Headers == nil {
		stored.Headers = http.Header{}
	}
	stored.Headers.Del("Transfer-Encoding")
	return json.Marshal(stored)
}

// BytesToStoredResponse reads a response written by StoredResponseToBytes.
// Entries without a status are taken to be 200 OK,
// since only successful responses are ever stored.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	var sRes StoredResponse
	if err := json.Unmarshal(b, &sRes); err != nil {
		return sRes, err
	}
	if sRes.StatusCode == 0 {
		sRes.StatusCode = http.StatusOK
	}
	if sRes.Headers == nil {
		sRes.Headers = http.Header{}
	}
	return sRes, nil
}
