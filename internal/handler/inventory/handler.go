package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hemolink/donor-api/internal/handler"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/service/inventory"
)

type Handler struct {
	service *inventory.Service
}

func NewHandler(service *inventory.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	stock := r.Group("/inventory")
	{
		stock.GET("", h.List)
		stock.PUT("/:bloodType", h.Update)
	}
}

func (h *Handler) List(c *gin.Context) {
	levels, err := h.service.ListStock(c.Request.Context())
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(levels))
}

func (h *Handler) Update(c *gin.Context) {
	bloodType, err := model.ParseBloodType(c.Param("bloodType"))
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	var req model.UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	stock, err := h.service.UpdateStock(c.Request.Context(), bloodType, req.Units)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(stock))
}
