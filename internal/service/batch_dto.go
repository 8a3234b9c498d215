package service

import (
	"encoding/json"

	"docspace-go/internal/model"
)

// BatchDTO 是批次在 HTTP 响应中的传输形态。
// 64 位整数字段（companyId、fileSizeBytes、documentId）以普通 JSON 数字输出；
// 超出 2^53 的值在 JavaScript 消费端可能丢失精度，这是记录在案的取舍。
type BatchDTO struct {
	ID              string            `json:"id"`
	CompanyID       int64             `json:"companyId"`
	CreatedByUserID uint              `json:"createdByUserId"`
	Status          model.BatchStatus `json:"status"`
	TotalFiles      int               `json:"totalFiles"`
	UploadedFiles   int               `json:"uploadedFiles"`
	ProcessedFiles  int               `json:"processedFiles"`
	FailedFiles     int               `json:"failedFiles"`
	Metadata        json.RawMessage   `json:"metadata,omitempty"`
	ErrorMessage    *string           `json:"errorMessage,omitempty"`

	CreatedAt           model.LocalTime  `json:"createdAt"`
	CommittedAt         *model.LocalTime `json:"committedAt,omitempty"`
	ProcessingStartedAt *model.LocalTime `json:"processingStartedAt,omitempty"`
	CompletedAt         *model.LocalTime `json:"completedAt,omitempty"`
	FailedAt            *model.LocalTime `json:"failedAt,omitempty"`

	Files []BatchFileDTO `json:"files,omitempty"`
}

// BatchFileDTO 是批次文件的传输形态。
// fileSizeBytes 和 documentId 为可空字段，缺省时输出 null 而不是省略，
// 调用方依赖 null 区分“未知大小”和“尚未生成文档”。
type BatchFileDTO struct {
	ID            uint             `json:"id"`
	BatchID       string           `json:"batchId"`
	CompanyID     int64            `json:"companyId"`
	UserID        uint             `json:"userId"`
	Filename      string           `json:"filename"`
	RelativePath  *string          `json:"relativePath,omitempty"`
	MimeType      *string          `json:"mimeType,omitempty"`
	FileSizeBytes *int64           `json:"fileSizeBytes"`
	Status        model.FileStatus `json:"status"`
	Metadata      json.RawMessage  `json:"metadata,omitempty"`
	ErrorMessage  *string          `json:"errorMessage,omitempty"`
	DocumentID    *uint            `json:"documentId"`
	CreatedAt     model.LocalTime  `json:"createdAt"`
}

// Serialize 将批次 ORM 模型转换为传输 DTO。纯转换，无副作用。
func (s *batchService) Serialize(batch *model.UploadBatch) *BatchDTO {
	if batch == nil {
		return nil
	}
	dto := &BatchDTO{
		ID:              batch.ID,
		CompanyID:       batch.CompanyID,
		CreatedByUserID: batch.CreatedByUserID,
		Status:          batch.Status,
		TotalFiles:      batch.TotalFiles,
		UploadedFiles:   batch.UploadedFiles,
		ProcessedFiles:  batch.ProcessedFiles,
		FailedFiles:     batch.FailedFiles,
		Metadata:        json.RawMessage(batch.Metadata),
		ErrorMessage:    batch.ErrorMessage,

		CreatedAt:           model.LocalTime(batch.CreatedAt),
		CommittedAt:         model.NewLocalTime(batch.CommittedAt),
		ProcessingStartedAt: model.NewLocalTime(batch.ProcessingStartedAt),
		CompletedAt:         model.NewLocalTime(batch.CompletedAt),
		FailedAt:            model.NewLocalTime(batch.FailedAt),
	}
	for i := range batch.Files {
		dto.Files = append(dto.Files, serializeFile(&batch.Files[i]))
	}
	return dto
}

// serializeFile 将单个文件记录转换为传输 DTO。
func serializeFile(f *model.UploadBatchFile) BatchFileDTO {
	return BatchFileDTO{
		ID:            f.ID,
		BatchID:       f.BatchID,
		CompanyID:     f.CompanyID,
		UserID:        f.UserID,
		Filename:      f.Filename,
		RelativePath:  f.RelativePath,
		MimeType:      f.MimeType,
		FileSizeBytes: f.FileSizeBytes,
		Status:        f.Status,
		Metadata:      json.RawMessage(f.Metadata),
		ErrorMessage:  f.ErrorMessage,
		DocumentID:    f.DocumentID,
		CreatedAt:     model.LocalTime(f.CreatedAt),
	}
}
