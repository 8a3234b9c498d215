// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docspace-go/internal/config"
	"docspace-go/pkg/es"
	"docspace-go/pkg/log"
	"docspace-go/pkg/token"
)

// SearchHandler 负责处理文档检索相关的 API 请求。
type SearchHandler struct {
	esCfg config.ElasticsearchConfig
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(esCfg config.ElasticsearchConfig) *SearchHandler {
	return &SearchHandler{esCfg: esCfg}
}

// SearchDocuments 处理按标题关键词检索文档的请求，结果限定在当前用户的租户内。
func (h *SearchHandler) SearchDocuments(c *gin.Context) {
	keyword := c.Query("q")
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 q 参数"})
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	docs, err := es.SearchDocuments(c.Request.Context(), h.esCfg.IndexName, userClaims.CompanyID, keyword, size)
	if err != nil {
		log.Error("SearchDocuments: failed to search documents", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "检索成功",
		"data":    docs,
	})
}
