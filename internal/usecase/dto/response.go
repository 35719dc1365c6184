package dto

import "github.com/geoview-microservice/internal/domain"

// ListRecordsResponse - ответ endpoint списка записей: {"data": [...], "meta": {...}}
type ListRecordsResponse = domain.RecordPage

// SessionInfo - состояние живой сессии карты
type SessionInfo struct {
	ID        string               `json:"id"`
	State     string               `json:"state"`
	Region    string               `json:"region,omitempty"`
	Filters   domain.RecordFilters `json:"filters"`
	Markers   int                  `json:"markers"`
	Fetches   int                  `json:"fetches"`
	Selection *domain.Selection    `json:"selection,omitempty"`
}
