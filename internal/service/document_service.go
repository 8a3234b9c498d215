package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"docspace-go/internal/model"
	"docspace-go/internal/repository"
	"docspace-go/pkg/log"
)

// downloadURLExpiry 限定预签名下载链接的有效期。
const downloadURLExpiry = 15 * time.Minute

// URLSigner 抽象了为对象键签发预签名下载链接的能力，解耦具体的 MinIO 客户端。
type URLSigner func(objectKey string, expiry time.Duration) (string, error)

// DocumentService 接口定义了文档实体相关的业务操作。
type DocumentService interface {
	ListDocuments(companyID int64) ([]model.Document, error)
	GetDownloadURL(documentID uint, companyID int64) (string, error)
}

// documentService 是 DocumentService 接口的实现。
type documentService struct {
	docRepo repository.DocumentRepository
	signURL URLSigner
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, signURL URLSigner) DocumentService {
	return &documentService{docRepo: docRepo, signURL: signURL}
}

// ListDocuments 返回当前租户的全部文档实体。
func (s *documentService) ListDocuments(companyID int64) ([]model.Document, error) {
	return s.docRepo.FindByCompanyID(companyID)
}

// GetDownloadURL 为租户内的文档签发预签名下载链接。
// 跨租户访问与不存在的文档统一表现为 record not found，不泄露文档 ID 的存在性。
func (s *documentService) GetDownloadURL(documentID uint, companyID int64) (string, error) {
	doc, err := s.docRepo.FindByID(documentID)
	if err != nil {
		return "", err
	}
	if doc.CompanyID != companyID {
		return "", gorm.ErrRecordNotFound
	}

	url, err := s.signURL(doc.ObjectKey, downloadURLExpiry)
	if err != nil {
		log.Errorf("[GetDownloadURL] 签发下载链接失败, DocumentID: %d, error: %v", documentID, err)
		return "", errors.New("签发下载链接失败")
	}
	return url, nil
}
