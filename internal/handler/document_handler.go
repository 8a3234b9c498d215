// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docspace-go/internal/service"
	"docspace-go/pkg/log"
	"docspace-go/pkg/token"
)

// DocumentHandler 负责处理文档实体相关的 API 请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// ListDocuments 返回当前租户的全部文档实体。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	docs, err := h.documentService.ListDocuments(userClaims.CompanyID)
	if err != nil {
		log.Error("ListDocuments: failed to list documents", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询文档列表成功",
		"data":    docs,
	})
}

// GetDownloadURL 为租户内的文档签发预签名下载链接。
func (h *DocumentHandler) GetDownloadURL(c *gin.Context) {
	documentIDValue, err := strconv.ParseUint(c.Param("documentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文档 ID"})
		return
	}

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	url, err := h.documentService.GetDownloadURL(uint(documentIDValue), userClaims.CompanyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "未找到文档"})
			return
		}
		log.Error("GetDownloadURL: failed to sign download url", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "签发下载链接失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "签发下载链接成功",
		"data":    gin.H{"url": url},
	})
}
