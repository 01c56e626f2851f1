// Package pagination implements the limit/offset windows shared by every
// list endpoint (appointments, availability, departments, doctors, exports).
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is the window a caller asked for.
type Page struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Junk or out-of-range values fall
// back to the defaults rather than failing the request.
func FromContext(c echo.Context) Page {
	p := Page{Limit: DefaultLimit}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Response is the list envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	Limit    int         `json:"limit"`
	Offset   int         `json:"offset"`
	HasMore  bool        `json:"has_more"`
	Next     string      `json:"next,omitempty"`
	Previous string      `json:"previous,omitempty"`
}

// Result wraps one page of data out of total matches.
func (p Page) Result(data interface{}, total int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}

// Linked is Result plus next/previous links on the request's own path. Other
// query parameters (status, date, patient_id filters) are carried over.
func (p Page) Linked(c echo.Context, data interface{}, total int) *Response {
	r := p.Result(data, total)
	if r.HasMore {
		r.Next = p.link(c, p.Offset+p.Limit)
	}
	if p.Offset > 0 {
		r.Previous = p.link(c, max(p.Offset-p.Limit, 0))
	}
	return r
}

func (p Page) link(c echo.Context, offset int) string {
	q := c.Request().URL.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	return c.Request().URL.Path + "?" + q.Encode()
}
