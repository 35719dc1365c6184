package domain

// GeoRecord - клиент (или другая сущность) с необязательными координатами.
// Coordinates приходит строкой вида "lat,lng"; записи без валидных координат на карту не попадают.
type GeoRecord struct {
	ID          int64   `json:"id" db:"id"`
	FullName    string  `json:"full_name" db:"full_name"`
	Category    string  `json:"category" db:"category"`
	Currency    string  `json:"currency" db:"currency"`
	Balance     float64 `json:"balance" db:"balance"`
	Coordinates *string `json:"coordinates" db:"coordinates"`
}

// PageMeta - метаданные пагинации ответа
type PageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// RecordPage - страница записей, которую возвращает endpoint списка
type RecordPage struct {
	Data []GeoRecord `json:"data"`
	Meta PageMeta    `json:"meta"`
}

// RecordFilters - дополнительные фильтры, которые подмешиваются в каждый запрос
type RecordFilters struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// IsZero проверяет, что фильтры не заданы
func (f RecordFilters) IsZero() bool {
	return f == RecordFilters{}
}

// RegionQuery - один запрос записей для видимой области
type RegionQuery struct {
	Region  RegionKey     `json:"region"`
	Filters RecordFilters `json:"filters"`
	PerPage int           `json:"per_page"`
}

// RecordListQuery - серверная сторона: запрос списка записей
type RecordListQuery struct {
	PolygonWKT string
	Search     string
	Categories []string
	Currency   string
	Page       int
	PerPage    int
}

// Offset возвращает смещение для SQL
func (q RecordListQuery) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}
