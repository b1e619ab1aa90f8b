package utils

// MaxPageLimit caps one page of a key listing. A limit of 0 still means
// "everything", which the operator CLI relies on.
const MaxPageLimit = 200

// PaginationParams is a normalised page request
type PaginationParams struct {
	Page  int
	Limit int
}

// PaginationMeta describes the page returned with a key listing
type PaginationMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// GetPaginationParams applies page >= 1 and 0 <= limit <= MaxPageLimit.
func GetPaginationParams(page, limit int) PaginationParams {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 0:
		limit = 0
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return PaginationParams{Page: page, Limit: limit}
}

// Paged reports whether the request asks for a single page.
func (p PaginationParams) Paged() bool {
	return p.Limit > 0
}

// Offset returns the number of rows to skip
func (p PaginationParams) Offset() int {
	if !p.Paged() || p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// CalculateMeta builds the metadata for a listing of totalCount rows.
func CalculateMeta(totalCount int64, page, limit int) PaginationMeta {
	if limit <= 0 {
		return PaginationMeta{
			Page:       1,
			Limit:      int(totalCount),
			TotalCount: totalCount,
			TotalPages: 1,
		}
	}

	totalPages := int((totalCount + int64(limit) - 1) / int64(limit))
	return PaginationMeta{
		Page:       page,
		Limit:      limit,
		TotalCount: totalCount,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}
