// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// BatchStatus 表示一个上传批次的生命周期状态。
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "created"    // 批次已创建，文件尚未开始上传
	BatchStatusUploading  BatchStatus = "uploading"  // 至少一个文件正在上传
	BatchStatusCommitted  BatchStatus = "committed"  // 调用方已提交批次，等待后台处理
	BatchStatusProcessing BatchStatus = "processing" // 后台处理中
	BatchStatusComplete   BatchStatus = "complete"   // 所有文件处理完毕
	BatchStatusFailed     BatchStatus = "failed"     // 批次失败
)

// FileStatus 表示批次内单个文件的状态。
type FileStatus string

const (
	FileStatusQueued     FileStatus = "queued"
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusComplete   FileStatus = "complete"
	FileStatusFailed     FileStatus = "failed"
)

// UploadBatch 定义了 upload_batches 表的 ORM 模型。
// 三个聚合计数字段（UploadedFiles/ProcessedFiles/FailedFiles）是派生缓存，
// 真实来源是每个文件自己的 status 列，只能通过聚合刷新操作整体覆写。
type UploadBatch struct {
	ID              string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	CompanyID       int64          `gorm:"not null;index" json:"companyId"`
	CreatedByUserID uint           `gorm:"not null;index" json:"createdByUserId"`
	Status          BatchStatus    `gorm:"type:varchar(20);not null" json:"status"`
	TotalFiles      int            `gorm:"not null" json:"totalFiles"`
	UploadedFiles   int            `gorm:"not null;default:0" json:"uploadedFiles"`
	ProcessedFiles  int            `gorm:"not null;default:0" json:"processedFiles"`
	FailedFiles     int            `gorm:"not null;default:0" json:"failedFiles"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	ErrorMessage    *string        `gorm:"type:varchar(1024)" json:"errorMessage,omitempty"`

	// 里程碑时间戳，到达前为 NULL，且各自至多被设置一次。
	CommittedAt         *time.Time `gorm:"default:null" json:"committedAt,omitempty"`
	ProcessingStartedAt *time.Time `gorm:"default:null" json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `gorm:"default:null" json:"completedAt,omitempty"`
	FailedAt            *time.Time `gorm:"default:null" json:"failedAt,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	// Files 仅在显式 Preload 时填充。
	Files []UploadBatchFile `gorm:"foreignKey:BatchID;references:ID" json:"files,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadBatch) TableName() string {
	return "upload_batches"
}

// UploadBatchFile 定义了 upload_batch_files 表的 ORM 模型。
// 文件归属于唯一的批次；company_id/user_id 从父批次冗余，便于独立按行查询。
type UploadBatchFile struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID       string         `gorm:"type:varchar(64);not null;index" json:"batchId"`
	CompanyID     int64          `gorm:"not null;index" json:"companyId"`
	UserID        uint           `gorm:"not null" json:"userId"`
	Filename      string         `gorm:"type:varchar(512);not null" json:"filename"`
	RelativePath  *string        `gorm:"type:varchar(1024)" json:"relativePath,omitempty"`
	MimeType      *string        `gorm:"type:varchar(128)" json:"mimeType,omitempty"`
	FileSizeBytes *int64         `json:"fileSizeBytes"`
	Status        FileStatus     `gorm:"type:varchar(20);not null" json:"status"`
	Metadata      datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	ErrorMessage  *string        `gorm:"type:varchar(1024)" json:"errorMessage,omitempty"`

	// ObjectKey 是文件内容上传到 MinIO 后的对象键。
	ObjectKey *string `gorm:"type:varchar(1024)" json:"objectKey,omitempty"`
	// DocumentID 是文件被转化为正式文档实体后的弱引用，仅用于关联查询。
	DocumentID *uint `gorm:"index" json:"documentId"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UploadBatchFile) TableName() string {
	return "upload_batch_files"
}
