// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docspace-go/internal/config"
	"docspace-go/internal/service"
	"docspace-go/pkg/log"
	"docspace-go/pkg/storage"
	"docspace-go/pkg/token"
)

// BatchHandler 负责处理所有与上传批次相关的 API 请求。
type BatchHandler struct {
	batchService service.BatchService
	minioCfg     config.MinIOConfig
}

// NewBatchHandler 创建一个新的 BatchHandler 实例。
func NewBatchHandler(batchService service.BatchService, minioCfg config.MinIOConfig) *BatchHandler {
	return &BatchHandler{batchService: batchService, minioCfg: minioCfg}
}

// CreateBatchRequest 定义了创建批次 API 的请求体结构。
// files 允许为空：空批次合法，totalFiles 为 0。
type CreateBatchRequest struct {
	Files    []service.BatchFileInput `json:"files"`
	Metadata map[string]interface{}   `json:"metadata"`
}

// CreateBatch 处理创建批次的请求。
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	batch, err := h.batchService.CreateBatch(c.Request.Context(), userClaims.UserID, userClaims.CompanyID, req.Files, req.Metadata)
	if err != nil {
		log.Error("CreateBatch: failed to create batch", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建批次失败"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    http.StatusCreated,
		"message": "批次创建成功",
		"data":    h.batchService.Serialize(batch),
	})
}

// GetBatch 处理按所有权查询批次的请求。
// 不存在与不属于当前用户统一返回 404，不泄露批次 ID 的存在性。
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	withFiles := c.Query("withFiles") == "true"

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	batch, err := h.batchService.GetBatchOwnedByUser(batchID, userClaims.UserID, withFiles)
	if err != nil {
		log.Error("GetBatch: failed to query batch", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询批次失败"})
		return
	}
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    http.StatusNotFound,
			"message": "未找到批次",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "查询批次成功",
		"data":    h.batchService.Serialize(batch),
	})
}

// GetProgress 处理批次进度轮询的请求。
func (h *BatchHandler) GetProgress(c *gin.Context) {
	batchID := c.Param("batchId")

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	progress, err := h.batchService.GetProgress(c.Request.Context(), batchID, userClaims.UserID)
	if err != nil {
		log.Error("GetProgress: failed to get batch progress", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取批次进度失败"})
		return
	}
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    http.StatusNotFound,
			"message": "未找到批次",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取批次进度成功",
		"data":    progress,
	})
}

// UploadFileContent 处理单个批次文件内容上传的请求。
// 内容写入 MinIO 后文件状态变为 uploaded；批次的首个上传把批次带入 uploading。
func (h *BatchHandler) UploadFileContent(c *gin.Context) {
	batchID := c.Param("batchId")
	fileIDValue, err := strconv.ParseUint(c.Param("fileId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文件 ID"})
		return
	}
	fileID := uint(fileIDValue)

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	// 先做所有权和文件归属检查，避免向对象存储写入孤儿对象
	batch, err := h.batchService.GetBatchOwnedByUser(batchID, userClaims.UserID, true)
	if err != nil {
		log.Error("UploadFileContent: failed to query batch", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询批次失败"})
		return
	}
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "未找到批次"})
		return
	}
	found := false
	for _, f := range batch.Files {
		if f.ID == fileID {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "未找到批次文件"})
		return
	}

	// 获取上传的文件内容
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件内容"})
		return
	}
	defer file.Close()

	objectKey, err := storage.PutBatchFile(c.Request.Context(), h.minioCfg.BucketName, batchID, fileID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		log.Error("UploadFileContent: failed to store file content", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文件内容写入存储失败"})
		return
	}

	updated, err := h.batchService.MarkFileUploaded(c.Request.Context(), batchID, fileID, userClaims.UserID, objectKey)
	if err != nil {
		log.Error("UploadFileContent: failed to mark file uploaded", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新文件状态失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文件上传成功",
		"data": gin.H{
			"fileId":    updated.ID,
			"status":    updated.Status,
			"objectKey": objectKey,
		},
	})
}

// CommitBatch 处理批次提交的请求：批次进入 committed 并为每个已上传文件投递处理任务。
func (h *BatchHandler) CommitBatch(c *gin.Context) {
	batchID := c.Param("batchId")

	claimsValue, _ := c.Get("claims")
	userClaims := claimsValue.(*token.CustomClaims)

	batch, err := h.batchService.CommitBatch(c.Request.Context(), batchID, userClaims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "未找到批次"})
			return
		}
		if errors.Is(err, service.ErrIllegalTransition) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "批次当前状态不允许提交"})
			return
		}
		if errors.Is(err, service.ErrNoUploadedFiles) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "批次中没有已上传的文件，无法提交"})
			return
		}
		log.Error("CommitBatch: failed to commit batch", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "提交批次失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "批次提交成功，处理任务已发送到 Kafka",
		"data":    h.batchService.Serialize(batch),
	})
}
