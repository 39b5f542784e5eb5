package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/noturnachs/wasteph-sub000/service"
)

// PublicHandler serves the unauthenticated counterparty surface. The only
// credential is the single-use submission token in the URL.
type PublicHandler struct {
	contracts *service.ContractService
}

func NewPublicHandler(contracts *service.ContractService) *PublicHandler {
	return &PublicHandler{contracts: contracts}
}

// ValidateToken checks a signing link before the client is shown the
// signing page. Only a redacted view of the contract is exposed.
func (h *PublicHandler) ValidateToken(c *gin.Context) {
	token := c.Param("token")
	contract, err := h.contracts.ValidateToken(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract_id":       contract.ID,
		"status":            contract.Status,
		"contract_duration": contract.ContractDuration,
	})
}

// Sign accepts the counterparty's signed document upload and completes the
// signing transition.
func (h *PublicHandler) Sign(c *gin.Context) {
	token := c.Param("token")

	name, data, ok := formFile(c, "document")
	if !ok {
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	contract, err := h.contracts.RecordSigning(c.Request.Context(), token, service.SigningInput{
		DocumentName: name,
		Document:     data,
		SignerIP:     c.ClientIP(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract_id": contract.ID,
		"status":      contract.Status,
		"signed_at":   contract.SignedAt,
	})
}
