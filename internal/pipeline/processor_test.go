package pipeline

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"docspace-go/internal/model"
	"docspace-go/internal/repository"
	"docspace-go/internal/service"
	"docspace-go/pkg/tasks"
)

// fakeStore 以内存 map 模拟对象存储的 Stat 语义。
type fakeStore struct {
	objects map[string]int64
}

func (f *fakeStore) Stat(_ context.Context, objectKey string) (int64, error) {
	size, ok := f.objects[objectKey]
	if !ok {
		return 0, errors.New("object not found")
	}
	return size, nil
}

// fakeIndexer 记录所有被索引的文档条目。
type fakeIndexer struct {
	docs []model.EsDocument
	err  error
}

func (f *fakeIndexer) Index(_ context.Context, doc model.EsDocument) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

type processorFixture struct {
	processor *Processor
	svc       service.BatchService
	docRepo   repository.DocumentRepository
	store     *fakeStore
	indexer   *fakeIndexer
}

func newFixture(t *testing.T) *processorFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取 sql.DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.UploadBatch{}, &model.UploadBatchFile{}, &model.Document{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	svc := service.NewBatchService(repository.NewBatchRepository(db, nil), nil)
	docRepo := repository.NewDocumentRepository(db)
	store := &fakeStore{objects: map[string]int64{}}
	indexer := &fakeIndexer{}
	return &processorFixture{
		processor: NewProcessorWith(store, indexer, docRepo, svc),
		svc:       svc,
		docRepo:   docRepo,
		store:     store,
		indexer:   indexer,
	}
}

// seedCommittedBatch 准备一个已提交的批次，所有文件已上传且对象存在。
func seedCommittedBatch(t *testing.T, fx *processorFixture, filenames []string) *model.UploadBatch {
	t.Helper()
	ctx := context.Background()

	inputs := make([]service.BatchFileInput, 0, len(filenames))
	for _, name := range filenames {
		inputs = append(inputs, service.BatchFileInput{Filename: name})
	}
	batch, err := fx.svc.CreateBatch(ctx, 1, 42, inputs, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range batch.Files {
		key := "batches/" + batch.ID + "/" + filenames[i]
		fx.store.objects[key] = int64(1000 + i)
		if _, err := fx.svc.MarkFileUploaded(ctx, batch.ID, batch.Files[i].ID, 1, key); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := fx.svc.CommitBatch(ctx, batch.ID, 1); err != nil {
		t.Fatal(err)
	}
	got, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// fileTask 从已上传的文件记录构造对应的处理任务。
func fileTask(batch *model.UploadBatch, file *model.UploadBatchFile) tasks.FileProcessingTask {
	var mimeType string
	if file.MimeType != nil {
		mimeType = *file.MimeType
	}
	return tasks.FileProcessingTask{
		BatchID:   batch.ID,
		FileID:    file.ID,
		ObjectKey: *file.ObjectKey,
		Filename:  file.Filename,
		MimeType:  mimeType,
		UserID:    file.UserID,
		CompanyID: file.CompanyID,
	}
}

func TestProcessSingleFileSuccess(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	batch := seedCommittedBatch(t, fx, []string{"report.pdf"})
	file := batch.Files[0]

	if err := fx.processor.Process(ctx, fileTask(batch, &file)); err != nil {
		t.Fatalf("处理失败: %v", err)
	}

	got, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchStatusComplete {
		t.Fatalf("单文件成功后批次应为 complete, got %q", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt 应在完成时设置")
	}
	if got.ProcessedFiles != 1 || got.FailedFiles != 0 {
		t.Fatalf("计数不符: processed=%d failed=%d", got.ProcessedFiles, got.FailedFiles)
	}

	// 文档实体生成并回填到文件记录
	if got.Files[0].DocumentID == nil {
		t.Fatal("documentId 未回填")
	}
	doc, err := fx.docRepo.FindByID(*got.Files[0].DocumentID)
	if err != nil {
		t.Fatalf("读取文档实体失败: %v", err)
	}
	if doc.Title != "report.pdf" || doc.CompanyID != 42 || doc.BatchFileID != file.ID {
		t.Fatalf("文档实体字段不符: %+v", doc)
	}
	if doc.SizeBytes != 1000 {
		t.Fatalf("文档大小应取自对象存储, got %d", doc.SizeBytes)
	}

	// 检索索引收到条目
	if len(fx.indexer.docs) != 1 || fx.indexer.docs[0].DocumentID != doc.ID {
		t.Fatalf("索引条目不符: %+v", fx.indexer.docs)
	}
}

func TestProcessMissingObjectFailsFile(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	batch := seedCommittedBatch(t, fx, []string{"report.pdf"})
	file := batch.Files[0]
	// 模拟对象在处理前丢失
	delete(fx.store.objects, *file.ObjectKey)

	if err := fx.processor.Process(ctx, fileTask(batch, &file)); err == nil {
		t.Fatal("对象缺失时 Process 应返回错误")
	}

	got, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Files[0].Status != model.FileStatusFailed {
		t.Fatalf("文件应为 failed, got %q", got.Files[0].Status)
	}
	if got.Files[0].ErrorMessage == nil {
		t.Error("失败原因未记录")
	}
	// 所有文件都失败时批次整体失败
	if got.Status != model.BatchStatusFailed {
		t.Fatalf("批次应为 failed, got %q", got.Status)
	}
	if got.FailedAt == nil || got.ErrorMessage == nil {
		t.Error("failedAt 和 errorMessage 应在失败时设置")
	}
}

func TestProcessPartialFailureCompletesBatch(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	batch := seedCommittedBatch(t, fx, []string{"a.pdf", "b.pdf"})
	// b.pdf 的对象丢失
	delete(fx.store.objects, *batch.Files[1].ObjectKey)

	if err := fx.processor.Process(ctx, fileTask(batch, &batch.Files[0])); err != nil {
		t.Fatal(err)
	}
	// 第一个任务处理完后批次仍在 processing，等待剩余文件
	mid, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mid.Status != model.BatchStatusProcessing {
		t.Fatalf("仍有文件未到终态时批次应为 processing, got %q", mid.Status)
	}

	if err := fx.processor.Process(ctx, fileTask(batch, &batch.Files[1])); err == nil {
		t.Fatal("对象缺失时 Process 应返回错误")
	}

	got, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 部分失败的批次收尾为 complete，失败体现在 failedFiles 计数里
	if got.Status != model.BatchStatusComplete {
		t.Fatalf("部分失败的批次应收尾为 complete, got %q", got.Status)
	}
	if got.ProcessedFiles != 1 || got.FailedFiles != 1 {
		t.Fatalf("计数不符: processed=%d failed=%d", got.ProcessedFiles, got.FailedFiles)
	}
}

func TestProcessIndexFailureFailsFile(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.indexer.err = errors.New("es unavailable")
	ctx := context.Background()

	batch := seedCommittedBatch(t, fx, []string{"report.pdf"})

	if err := fx.processor.Process(ctx, fileTask(batch, &batch.Files[0])); err == nil {
		t.Fatal("索引失败时 Process 应返回错误")
	}

	got, err := fx.svc.GetBatchWithFiles(batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Files[0].Status != model.FileStatusFailed {
		t.Fatalf("文件应为 failed, got %q", got.Files[0].Status)
	}
}
