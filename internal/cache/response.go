package cache

import (
	"net/http"
)

// ResponseType mirrors the fetch response type.
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"
	TypeCORS   ResponseType = "cors"
	TypeOpaque ResponseType = "opaque"
	TypeError  ResponseType = "error"
)

// UnavailableBody is the body of the synthetic offline response.
const UnavailableBody = "Offline - Resource not available"

// Response is a fully buffered response. Bodies are byte slices so a clone
// can be cached while the original is handed to the caller.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	Type       ResponseType
	// URL is the final URL the response was obtained from.
	URL string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Unavailable builds the synthetic 503 served when neither cache nor
// network can satisfy a request.
func Unavailable() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     h,
		Body:       []byte(UnavailableBody),
		Type:       TypeBasic,
	}
}
