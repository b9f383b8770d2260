package dto

// PageRequest is a limit/offset page selector.
type PageRequest struct {
	Limit  int
	Offset int
}

// SetDefaults sets default values for pagination
func (p *PageRequest) SetDefaults() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// NewPaginationInfo builds the metadata for page out of total rows.
func NewPaginationInfo(page PageRequest, total int64) PaginationInfo {
	return PaginationInfo{
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: int64(page.Offset+page.Limit) < total,
	}
}
