package dto

// ListRecordsRequest - запрос списка записей внутри видимой области
type ListRecordsRequest struct {
	WithinPolygon string `query:"within_polygon" validate:"omitempty,max=2048"`
	FullName      string `query:"full_name" validate:"omitempty,max=200"`
	Search        string `query:"search" validate:"omitempty,max=200"`
	Category      string `query:"category" validate:"omitempty,max=500"` // comma separated
	Currency      string `query:"currency" validate:"omitempty,max=10"`
	Page          int    `query:"page" validate:"omitempty,min=1"`
	PerPage       int    `query:"per_page" validate:"omitempty,min=1,max=500"`
}

// SearchTerm возвращает full_name, а если он пуст - search
func (r ListRecordsRequest) SearchTerm() string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Search
}
