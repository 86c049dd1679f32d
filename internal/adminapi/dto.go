package adminapi

import "time"

type BanRangeInfo struct {
	ID      uint64    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Reason  string    `json:"reason"`
	Created time.Time `json:"created"`
}

type BanRangePage struct {
	Ranges []BanRangeInfo `json:"ranges"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Total  int64          `json:"total"`
	Pages  int64          `json:"pages"`
}

type BanRangeRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type BanRangePatchRequest struct {
	From   *string `json:"from,omitempty"`
	To     *string `json:"to,omitempty"`
	Reason *string `json:"reason,omitempty"`
}

type BulkCreateRequest struct {
	Ranges []BanRangeRequest `json:"ranges"`
}

type BulkCreateResponse struct {
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
}
