package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/chain"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

type publishRequest struct {
	PackageID    string `json:"package_id" binding:"required"`
	MetadataURI  string `json:"metadata_uri" binding:"required"`
	MetadataHash string `json:"metadata_hash" binding:"required"`
	Wallet       string `json:"wallet" binding:"required"`
}

// PreparePublish encodes the unsigned publish transaction for a
// wallet to sign. Whether it mints a fresh entry or updates an
// existing one is decided from current chain state, not by the
// caller.
func (h *Handlers) PreparePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "package_id, metadata_uri, metadata_hash and wallet are required"})
		return
	}
	pkg, err := types.ParsePackageID(req.PackageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet, err := chain.ParseAddress(req.Wallet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed wallet address: " + err.Error()})
		return
	}

	tx, err := h.publisher.Prepare(c.Request.Context(), h.registry, pkg, wallet, req.MetadataURI, req.MetadataHash)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("prepared publish transaction",
		zap.String("package", pkg.String()),
		zap.String("kind", string(tx.Kind)))
	c.JSON(http.StatusOK, gin.H{
		"kind": tx.Kind,
		"to":   tx.To.Hex(),
		"data": chain.ToHex(tx.Data),
	})
}
