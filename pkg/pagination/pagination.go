package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Params holds pagination parameters extracted from a request. Skip is
// the number of records to pass over before the page starts.
type Params struct {
	Limit int
	Skip  int
}

// FromContext extracts pagination parameters from the echo context.
// Accepts skip/limit with offset as a fallback alias.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	if skip <= 0 {
		skip, _ = strconv.Atoi(c.QueryParam("offset"))
	}
	if skip < 0 {
		skip = 0
	}

	return Params{Limit: limit, Skip: skip}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Skip    int         `json:"skip"`
	HasMore bool        `json:"hasMore"`
}

func NewResponse(data interface{}, total, limit, skip int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Skip:    skip,
		HasMore: skip+limit < total,
	}
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Skip)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Skip+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Skip > 0
}

// NextSkip returns the skip value for the next page.
func (p Params) NextSkip() int {
	return p.Skip + p.Limit
}

// PreviousSkip returns the skip value for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousSkip() int {
	prev := p.Skip - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}
