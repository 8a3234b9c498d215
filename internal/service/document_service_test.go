package service

import (
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"docspace-go/internal/model"
	"docspace-go/internal/repository"
)

func newDocTestRepo(t *testing.T) repository.DocumentRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Document{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return repository.NewDocumentRepository(db)
}

func seedDocument(t *testing.T, repo repository.DocumentRepository, companyID int64, title, objectKey string) *model.Document {
	t.Helper()
	doc := &model.Document{
		CompanyID:   companyID,
		OwnerUserID: 1,
		BatchFileID: 1,
		Title:       title,
		ObjectKey:   objectKey,
		SizeBytes:   100,
	}
	if err := repo.Create(doc); err != nil {
		t.Fatalf("创建文档失败: %v", err)
	}
	return doc
}

func TestListDocumentsScopedToCompany(t *testing.T) {
	t.Parallel()
	repo := newDocTestRepo(t)
	seedDocument(t, repo, 42, "a.pdf", "batches/x/1")
	seedDocument(t, repo, 42, "b.pdf", "batches/x/2")
	seedDocument(t, repo, 7, "other.pdf", "batches/y/1")

	svc := NewDocumentService(repo, nil)

	docs, err := svc.ListDocuments(42)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("期望 2 个文档, got %d", len(docs))
	}
	for _, d := range docs {
		if d.CompanyID != 42 {
			t.Errorf("跨租户文档泄露: %+v", d)
		}
	}
}

func TestGetDownloadURL(t *testing.T) {
	t.Parallel()
	repo := newDocTestRepo(t)
	doc := seedDocument(t, repo, 42, "a.pdf", "batches/x/1")

	var signedKey string
	svc := NewDocumentService(repo, func(objectKey string, expiry time.Duration) (string, error) {
		signedKey = objectKey
		return "https://minio.local/" + objectKey + "?sig=test", nil
	})

	url, err := svc.GetDownloadURL(doc.ID, 42)
	if err != nil {
		t.Fatalf("签发下载链接失败: %v", err)
	}
	if url == "" || signedKey != "batches/x/1" {
		t.Fatalf("签发的对象键不符: url=%q key=%q", url, signedKey)
	}
}

func TestGetDownloadURLHidesForeignDocuments(t *testing.T) {
	t.Parallel()
	repo := newDocTestRepo(t)
	doc := seedDocument(t, repo, 42, "a.pdf", "batches/x/1")

	svc := NewDocumentService(repo, func(objectKey string, expiry time.Duration) (string, error) {
		t.Fatal("跨租户请求不应触达签名器")
		return "", nil
	})

	// 跨租户与不存在的文档表现一致：record not found
	if _, err := svc.GetDownloadURL(doc.ID, 7); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("跨租户访问应得到 ErrRecordNotFound, got %v", err)
	}
	if _, err := svc.GetDownloadURL(999, 42); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("不存在的文档应得到 ErrRecordNotFound, got %v", err)
	}
}

func TestGetDownloadURLSignerFailure(t *testing.T) {
	t.Parallel()
	repo := newDocTestRepo(t)
	doc := seedDocument(t, repo, 42, "a.pdf", "batches/x/1")

	svc := NewDocumentService(repo, func(objectKey string, expiry time.Duration) (string, error) {
		return "", errors.New("minio unavailable")
	})

	if _, err := svc.GetDownloadURL(doc.ID, 42); err == nil {
		t.Fatal("签名器失败时应返回错误")
	}
}
