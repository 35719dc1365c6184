package handler

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/geoview-microservice/internal/pkg/utils"
	"github.com/geoview-microservice/internal/usecase"
	"github.com/geoview-microservice/internal/usecase/dto"
)

// SessionHandler отдаёт состояние живых сессий карты (отладка)
type SessionHandler struct {
	registry *usecase.SessionRegistry
}

// NewSessionHandler создает SessionHandler
func NewSessionHandler(registry *usecase.SessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// List godoc
// @Summary Живые сессии карты
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.SuccessResponse{data=[]dto.SessionInfo}
// @Router /api/v1/sessions [get]
func (h *SessionHandler) List(c *fiber.Ctx) error {
	ids := h.registry.IDs()
	sort.Strings(ids)

	infos := make([]dto.SessionInfo, 0, len(ids))
	for _, id := range ids {
		s, err := h.registry.Get(id)
		if err != nil {
			continue // закрылась между IDs и Get
		}
		infos = append(infos, sessionInfo(s))
	}

	return utils.SendSuccess(c, infos, fiber.Map{"total": len(infos)})
}

// Get godoc
// @Summary Состояние сессии карты
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} utils.SuccessResponse{data=dto.SessionInfo}
// @Failure 404 {object} utils.ErrorResponse
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	s, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, sessionInfo(s), nil)
}

func sessionInfo(s *usecase.MapSession) dto.SessionInfo {
	snap := s.Debouncer()
	return dto.SessionInfo{
		ID:        s.ID(),
		State:     string(snap.State),
		Region:    string(snap.Region),
		Filters:   snap.Filters,
		Markers:   len(s.Markers()),
		Fetches:   snap.Issued,
		Selection: s.Selection(),
	}
}
