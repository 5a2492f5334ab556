package request

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/handler"
	"github.com/hemolink/donor-api/internal/middleware"
	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/internal/service/request"
)

type Handler struct {
	service *request.Service
}

func NewHandler(service *request.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the hospital-facing lifecycle routes on the
// public group and the donor response route on the authenticated one.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	requests := public.Group("/requests")
	{
		requests.POST("", h.Create)
		requests.GET("/:id", h.Status)
		requests.DELETE("/:id", h.Cancel)
	}

	authed.POST("/requests/:id/responses", h.Respond)
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateBloodRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.service.Submit(c.Request.Context(), &req)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}

	info, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(info))
}

// Respond records the authenticated donor's answer to a wave alert.
func (h *Handler) Respond(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}

	donorID, ok := middleware.DonorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing donor identity"))
		return
	}

	var body struct {
		Response string `json:"response" binding:"required,oneof=accepted declined"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.Respond(c.Request.Context(), id, donorID, model.DonorResponse(body.Response)); err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"recorded": true}))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request ID"))
		return
	}

	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		handler.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": true}))
}
