package model

import "time"

// Document 定义了 documents 表的 ORM 模型。
// 后台管道在文件处理完成后创建文档实体，批次文件通过 document_id 弱引用它。
type Document struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID   int64     `gorm:"not null;index" json:"companyId"`
	OwnerUserID uint      `gorm:"not null;index" json:"ownerUserId"`
	BatchFileID uint      `gorm:"not null;index" json:"batchFileId"`
	Title       string    `gorm:"type:varchar(512);not null" json:"title"`
	MimeType    string    `gorm:"type:varchar(128)" json:"mimeType,omitempty"`
	ObjectKey   string    `gorm:"type:varchar(1024);not null" json:"objectKey"`
	SizeBytes   int64     `gorm:"not null" json:"sizeBytes"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
