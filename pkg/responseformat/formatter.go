package responseformat

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// ContentTypeJSON is the default response format.
	ContentTypeJSON = "application/json"
	// ContentTypeMsgPack is used when format=msgpack is requested.
	ContentTypeMsgPack = "application/x-msgpack"
)

// Formatter handles encoding and writing responses in JSON or MessagePack format
type Formatter struct{}

// NewFormatter creates a new response formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// WriteResponse writes the response in the appropriate format based on the query parameter
// JSON is the default format. MessagePack is used when format=msgpack is specified
func (f *Formatter) WriteResponse(w http.ResponseWriter, req *http.Request, data any, headers map[string]string) error {
	return f.WriteStatus(w, req, http.StatusOK, data, headers)
}

// WriteStatus is WriteResponse with an explicit status code.
func (f *Formatter) WriteStatus(w http.ResponseWriter, req *http.Request, status int, data any, headers map[string]string) error {
	// Set any provided headers first
	for k, v := range headers {
		w.Header().Set(k, v)
	}

	// Always set CORS header
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Check if MessagePack is requested via format=msgpack query parameter
	if req.URL.Query().Get("format") == "msgpack" {
		return f.writeMsgPack(w, status, data)
	}

	// Default to JSON format (when no format parameter or any other value)
	return f.writeJSON(w, status, data)
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteError writes an ErrorBody with the given status in the requested format.
func (f *Formatter) WriteError(w http.ResponseWriter, req *http.Request, status int, body ErrorBody) error {
	return f.WriteStatus(w, req, status, body, nil)
}

func (f *Formatter) writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func (f *Formatter) writeMsgPack(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", ContentTypeMsgPack)
	w.WriteHeader(status)
	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json") // Use json tags for MessagePack
	return encoder.Encode(data)
}

// Decode reads a body written by Formatter, choosing the decoder from the
// response content type.
func Decode(contentType string, r io.Reader, v any) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == ContentTypeMsgPack {
		decoder := msgpack.NewDecoder(r)
		decoder.SetCustomStructTag("json")
		return decoder.Decode(v)
	}
	return json.NewDecoder(r).Decode(v)
}
