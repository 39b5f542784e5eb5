package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/middleware"
	"github.com/noturnachs/wasteph-sub000/service"
)

// maxUploadSize caps template and document uploads at 20 MiB.
const maxUploadSize = 20 << 20

type ContractHandler struct {
	contracts *service.ContractService
}

func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

func (h *ContractHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	contract, err := h.contracts.Get(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// GetByProposal materializes the contract for a proposal if it does not
// exist yet and returns it.
func (h *ContractHandler) GetByProposal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	contract, err := h.contracts.Materialize(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Request moves the proposal's contract from pending_request to requested.
// Accepts multipart form data: an optional template file upload, or JSON
// fields referencing a system template.
func (h *ContractHandler) Request(c *gin.Context) {
	proposalID, ok := pathID(c)
	if !ok {
		return
	}

	var in service.ContractRequestInput
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		in.StartDate = c.PostForm("start_date")
		in.EndDate = c.PostForm("end_date")
		if fields := c.PostForm("fields"); fields != "" {
			if err := json.Unmarshal([]byte(fields), &in.Fields); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fields JSON"})
				return
			}
		}
		name, data, ok := formFile(c, "template")
		if !ok {
			return
		}
		in.UploadedName = name
		in.UploadedFile = data
	} else if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	contract, err := h.contracts.Request(c.Request.Context(), middleware.GetActor(c), proposalID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Fulfill attaches the finished document, either uploaded or generated from
// the contract template with the admin's edits.
func (h *ContractHandler) Fulfill(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var in service.ContractFulfillInput
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if fields := c.PostForm("fields"); fields != "" {
			if err := json.Unmarshal([]byte(fields), &in.Fields); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fields JSON"})
				return
			}
		}
		in.DraftHTML = c.PostForm("draft_html")
		name, data, ok := formFile(c, "document")
		if !ok {
			return
		}
		in.DocumentName = name
		in.Document = data
	} else if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	contract, err := h.contracts.Fulfill(c.Request.Context(), middleware.GetActor(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// SaveDraft persists an edited HTML snapshot without a status change
func (h *ContractHandler) SaveDraft(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body struct {
		DraftHTML string `json:"draft_html" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	contract, err := h.contracts.SaveDraftHTML(c.Request.Context(), middleware.GetActor(c), id, body.DraftHTML)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Send emails the contract to the counterparty with its signing link
func (h *ContractHandler) Send(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	contract, err := h.contracts.SendToCounterparty(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// Hardbound confirms receipt of the physical signed copy
func (h *ContractHandler) Hardbound(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	contract, err := h.contracts.RecordHardbound(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// PaymentPreview evaluates the template's installment schedule against the
// contract amounts without persisting anything
func (h *ContractHandler) PaymentPreview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	schedule, err := h.contracts.PreviewPaymentSchedule(c.Request.Context(), middleware.GetActor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule": schedule})
}

// formFile reads an optional form file. A missing file is not an error; a
// file that cannot be read responds 400 and returns ok=false.
func formFile(c *gin.Context, field string) (string, []byte, bool) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return "", nil, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return "", nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return "", nil, false
	}
	if len(data) > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File exceeds maximum size"})
		return "", nil, false
	}
	return header.Filename, data, true
}
