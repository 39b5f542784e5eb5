package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/middleware"
	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/service"
)

type TemplateHandler struct {
	templates *service.TemplateService
}

func NewTemplateHandler(templates *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// manageGuard enforces that only admins touch templates
func (h *TemplateHandler) manageGuard(c *gin.Context) bool {
	if err := service.Authorize(middleware.GetActor(c), 0, service.OpManageTemplate); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

func (h *TemplateHandler) Create(c *gin.Context) {
	if !h.manageGuard(c) {
		return
	}
	var in service.TemplateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	t, err := h.templates.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TemplateHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.templates.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetByType resolves the active template for a document kind, falling back
// to the default
func (h *TemplateHandler) GetByType(c *gin.Context) {
	templateType := c.Param("type")
	if templateType != model.TemplateProposal && templateType != model.TemplateContract {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown template type"})
		return
	}
	t, err := h.templates.GetByType(c.Request.Context(), templateType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TemplateHandler) Update(c *gin.Context) {
	if !h.manageGuard(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in service.TemplateUpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	t, err := h.templates.Update(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// SetDefault marks one template as the global fallback
func (h *TemplateHandler) SetDefault(c *gin.Context) {
	if !h.manageGuard(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.templates.SetDefault(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if !h.manageGuard(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.templates.SoftDelete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted"})
}
