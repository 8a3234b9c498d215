package repository

import (
	"gorm.io/gorm"

	"docspace-go/internal/model"
)

// DocumentRepository 接口定义了文档实体的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id uint) (*model.Document, error)
	FindByCompanyID(companyID int64) ([]model.Document, error)
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找文档。
func (r *documentRepository) FindByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByCompanyID 查找某个租户的全部文档。
func (r *documentRepository) FindByCompanyID(companyID int64) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("company_id = ?", companyID).Order("id desc").Find(&docs).Error
	return docs, err
}
