package donor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/handler"
	"github.com/hemolink/donor-api/internal/middleware"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/service/donor"
)

type Handler struct {
	service *donor.Service
}

func NewHandler(service *donor.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts registration on the public group and profile
// routes on the authenticated one.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.POST("/donors", h.Register)

	donors := authed.Group("/donors")
	{
		donors.GET("", h.List)
		donors.GET("/me", h.GetProfile)
		donors.PUT("/me", h.UpdateProfile)
		donors.GET("/:id", h.Get)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	d, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(d))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid donor ID"))
		return
	}

	d, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(d))
}

func (h *Handler) GetProfile(c *gin.Context) {
	donorID, ok := middleware.DonorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing donor identity"))
		return
	}

	d, err := h.service.Get(c.Request.Context(), donorID)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(d))
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	donorID, ok := middleware.DonorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing donor identity"))
		return
	}

	var req model.UpdateDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	d, err := h.service.Update(c.Request.Context(), donorID, &req)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(d))
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.DonorFilters{}
	if bt := c.Query("blood_type"); bt != "" {
		parsed, err := model.ParseBloodType(bt)
		if err != nil {
			handler.WriteError(c, err)
			return
		}
		filters.BloodType = parsed
	}
	if avail := c.Query("available"); avail != "" {
		v := avail == "true"
		filters.Available = &v
	}

	donors, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(donors))
}
