package repository

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"docspace-go/internal/model"
)

// newTestDB 打开一个仅供当前测试使用的内存 SQLite 数据库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	// 内存库每个连接是独立的数据库，限制为单连接
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取 sql.DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.UploadBatch{}, &model.UploadBatchFile{}, &model.Document{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

func newTestRepo(t *testing.T) BatchRepository {
	t.Helper()
	return NewBatchRepository(newTestDB(t), nil)
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func seedBatch(t *testing.T, repo BatchRepository, batchID string, userID uint, fileCount int) *model.UploadBatch {
	t.Helper()
	batch := &model.UploadBatch{
		ID:              batchID,
		CompanyID:       42,
		CreatedByUserID: userID,
		Status:          model.BatchStatusCreated,
		TotalFiles:      fileCount,
	}
	files := make([]*model.UploadBatchFile, 0, fileCount)
	for i := 0; i < fileCount; i++ {
		files = append(files, &model.UploadBatchFile{
			CompanyID: 42,
			UserID:    userID,
			Filename:  "file.txt",
			Status:    model.FileStatusQueued,
		})
	}
	if err := repo.CreateBatchWithFiles(context.Background(), batch, files); err != nil {
		t.Fatalf("创建批次失败: %v", err)
	}
	return batch
}

func TestCreateBatchWithFiles(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	batch := &model.UploadBatch{
		ID:              "batch_test_000001",
		CompanyID:       7,
		CreatedByUserID: 1,
		Status:          model.BatchStatusCreated,
		TotalFiles:      2,
	}
	files := []*model.UploadBatchFile{
		{CompanyID: 7, UserID: 1, Filename: "a.pdf", FileSizeBytes: int64Ptr(500), Status: model.FileStatusQueued},
		{CompanyID: 7, UserID: 1, Filename: "b.pdf", Status: model.FileStatusQueued},
	}
	if err := repo.CreateBatchWithFiles(context.Background(), batch, files); err != nil {
		t.Fatalf("创建批次失败: %v", err)
	}

	got, err := repo.GetWithFiles("batch_test_000001")
	if err != nil {
		t.Fatalf("读取批次失败: %v", err)
	}
	if got.TotalFiles != 2 || len(got.Files) != 2 {
		t.Fatalf("期望 2 个文件, got TotalFiles=%d, len(Files)=%d", got.TotalFiles, len(got.Files))
	}
	for _, f := range got.Files {
		if f.BatchID != batch.ID {
			t.Errorf("文件未挂到父批次: BatchID=%q", f.BatchID)
		}
		if f.Status != model.FileStatusQueued {
			t.Errorf("初始文件状态应为 queued, got %q", f.Status)
		}
	}
}

func TestCreateBatchWithFilesEmpty(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	batch := seedBatch(t, repo, "batch_test_empty", 1, 0)
	got, err := repo.GetWithFiles(batch.ID)
	if err != nil {
		t.Fatalf("读取空批次失败: %v", err)
	}
	if got.TotalFiles != 0 || len(got.Files) != 0 {
		t.Fatalf("空批次不应有文件记录, got TotalFiles=%d, len(Files)=%d", got.TotalFiles, len(got.Files))
	}
}

func TestCreateBatchDuplicateIDIsAtomic(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	seedBatch(t, repo, "batch_test_dup", 1, 1)

	dup := &model.UploadBatch{
		ID:              "batch_test_dup",
		CompanyID:       42,
		CreatedByUserID: 1,
		Status:          model.BatchStatusCreated,
		TotalFiles:      3,
	}
	files := []*model.UploadBatchFile{
		{CompanyID: 42, UserID: 1, Filename: "x.txt", Status: model.FileStatusQueued},
		{CompanyID: 42, UserID: 1, Filename: "y.txt", Status: model.FileStatusQueued},
		{CompanyID: 42, UserID: 1, Filename: "z.txt", Status: model.FileStatusQueued},
	}
	err := repo.CreateBatchWithFiles(context.Background(), dup, files)
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("期望 ErrDuplicatedKey, got %v", err)
	}

	// 失败的事务不能留下孤儿文件行
	got, err := repo.ListFiles("batch_test_dup")
	if err != nil {
		t.Fatalf("列出文件失败: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("回滚后文件数应保持为 1, got %d", len(got))
	}
}

func TestFindByIDAndUserOwnership(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	seedBatch(t, repo, "batch_test_owner", 10, 1)

	// 所有者可见
	if _, err := repo.FindByIDAndUser("batch_test_owner", 10, false); err != nil {
		t.Fatalf("所有者查询失败: %v", err)
	}

	// 非所有者与不存在的批次表现一致：record not found
	if _, err := repo.FindByIDAndUser("batch_test_owner", 99, false); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("非所有者应得到 ErrRecordNotFound, got %v", err)
	}
	if _, err := repo.FindByIDAndUser("batch_test_missing", 10, false); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("不存在的批次应得到 ErrRecordNotFound, got %v", err)
	}
}

func TestRefreshAggregates(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "batch_test_agg", 1, 4)

	files, err := repo.ListFiles(batch.ID)
	if err != nil {
		t.Fatalf("列出文件失败: %v", err)
	}
	// 状态组合: complete, failed, uploaded, queued
	if err := repo.UpdateFileStatus(context.Background(), files[0].ID, model.FileStatusComplete, nil); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateFileStatus(context.Background(), files[1].ID, model.FileStatusFailed, strPtr("parse error")); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateFileStatus(context.Background(), files[2].ID, model.FileStatusUploaded, nil); err != nil {
		t.Fatal(err)
	}

	got, err := repo.RefreshAggregates(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("刷新聚合计数失败: %v", err)
	}
	// uploaded 统计所有离开 queued 的文件
	if got.UploadedFiles != 3 || got.ProcessedFiles != 1 || got.FailedFiles != 1 {
		t.Fatalf("聚合计数不符: uploaded=%d processed=%d failed=%d", got.UploadedFiles, got.ProcessedFiles, got.FailedFiles)
	}

	// 不变式: 0 <= processed+failed <= uploaded <= total
	if got.ProcessedFiles+got.FailedFiles > got.UploadedFiles || got.UploadedFiles > got.TotalFiles {
		t.Fatalf("计数越界: %+v", got)
	}

	// 幂等性: 中间无文件状态变化时重复刷新结果一致
	again, err := repo.RefreshAggregates(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("二次刷新失败: %v", err)
	}
	if again.UploadedFiles != got.UploadedFiles || again.ProcessedFiles != got.ProcessedFiles || again.FailedFiles != got.FailedFiles {
		t.Fatalf("刷新不幂等: first=%+v second=%+v", got, again)
	}
}

func TestUpdateFileStatusRefreshesParent(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "batch_test_sync", 1, 2)

	files, err := repo.ListFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateFileStatus(context.Background(), files[0].ID, model.FileStatusComplete, nil); err != nil {
		t.Fatal(err)
	}

	// 文件状态更新与父批次计数在同一事务内完成，无需显式刷新
	got, err := repo.GetWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UploadedFiles != 1 || got.ProcessedFiles != 1 {
		t.Fatalf("父批次计数未同步: uploaded=%d processed=%d", got.UploadedFiles, got.ProcessedFiles)
	}
}

func TestUpdateFileStatusRecordsError(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "batch_test_err", 1, 1)

	files, _ := repo.ListFiles(batch.ID)
	if err := repo.UpdateFileStatus(context.Background(), files[0].ID, model.FileStatusFailed, strPtr("对象不存在")); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetFile(batch.ID, files[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.FileStatusFailed {
		t.Fatalf("期望 failed 状态, got %q", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "对象不存在" {
		t.Fatalf("错误信息未记录: %v", got.ErrorMessage)
	}
}

func TestSetFileObjectKeyAndDocumentID(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "batch_test_keys", 1, 1)

	files, _ := repo.ListFiles(batch.ID)
	if err := repo.SetFileObjectKey(files[0].ID, "batches/batch_test_keys/1"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetFileDocumentID(files[0].ID, 77); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetFile(batch.ID, files[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ObjectKey == nil || *got.ObjectKey != "batches/batch_test_keys/1" {
		t.Fatalf("对象键未记录: %v", got.ObjectKey)
	}
	if got.DocumentID == nil || *got.DocumentID != 77 {
		t.Fatalf("文档 ID 未回填: %v", got.DocumentID)
	}
}

func TestGetFileScopedToBatch(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	batchA := seedBatch(t, repo, "batch_test_a", 1, 1)
	seedBatch(t, repo, "batch_test_b", 1, 1)

	files, _ := repo.ListFiles(batchA.ID)
	// 文件 ID 正确但批次不匹配时不可见
	if _, err := repo.GetFile("batch_test_b", files[0].ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("跨批次查询文件应得到 ErrRecordNotFound, got %v", err)
	}
}

func TestCachedProgressNilClient(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	// 未配置 Redis 时缓存读写都应静默跳过
	if err := repo.CacheProgress(context.Background(), BatchProgress{BatchID: "b"}); err != nil {
		t.Fatalf("nil redis 客户端下 CacheProgress 应为 no-op, got %v", err)
	}
	got, err := repo.GetCachedProgress(context.Background(), "b")
	if err != nil || got != nil {
		t.Fatalf("nil redis 客户端下 GetCachedProgress 应返回 (nil, nil), got (%v, %v)", got, err)
	}
}
