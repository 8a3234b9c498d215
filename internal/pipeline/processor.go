// Package pipeline 定义了批次文件的异步处理流程。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"docspace-go/internal/config"
	"docspace-go/internal/model"
	"docspace-go/internal/repository"
	"docspace-go/internal/service"
	"docspace-go/pkg/es"
	"docspace-go/pkg/log"
	"docspace-go/pkg/storage"
	"docspace-go/pkg/tasks"
)

// ObjectStore 抽象了处理流程对对象存储的只读访问。
type ObjectStore interface {
	// Stat 返回对象的字节大小，对象不存在时返回错误。
	Stat(ctx context.Context, objectKey string) (int64, error)
}

// DocIndexer 抽象了文档条目的检索索引写入。
type DocIndexer interface {
	Index(ctx context.Context, doc model.EsDocument) error
}

// minioStore 是 ObjectStore 的 MinIO 实现。
type minioStore struct {
	bucketName string
}

func (m *minioStore) Stat(ctx context.Context, objectKey string) (int64, error) {
	info, err := storage.StatObject(ctx, m.bucketName, objectKey)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// esIndexer 是 DocIndexer 的 Elasticsearch 实现。
type esIndexer struct {
	indexName string
}

func (e *esIndexer) Index(ctx context.Context, doc model.EsDocument) error {
	return es.IndexDocument(ctx, e.indexName, doc)
}

// Processor 封装了单个文件处理任务的所有依赖和逻辑。
type Processor struct {
	store        ObjectStore
	indexer      DocIndexer
	docRepo      repository.DocumentRepository
	batchService service.BatchService
}

// NewProcessor 创建一个面向生产环境的 Processor 实例。
func NewProcessor(
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
	docRepo repository.DocumentRepository,
	batchService service.BatchService,
) *Processor {
	return &Processor{
		store:        &minioStore{bucketName: minioCfg.BucketName},
		indexer:      &esIndexer{indexName: esCfg.IndexName},
		docRepo:      docRepo,
		batchService: batchService,
	}
}

// NewProcessorWith 以显式依赖构建 Processor，供测试注入假实现。
func NewProcessorWith(store ObjectStore, indexer DocIndexer, docRepo repository.DocumentRepository, batchService service.BatchService) *Processor {
	return &Processor{store: store, indexer: indexer, docRepo: docRepo, batchService: batchService}
}

// Process 是文件处理的主函数。
// 成功路径：文件 processing → 校验对象 → 生成文档实体 → 写入检索索引 → complete；
// 任一步失败则文件转入 failed 并记录错误信息。
// 无论成败，最后一个转入终态的文件负责把批次收尾到 complete 或 failed。
func (p *Processor) Process(ctx context.Context, task tasks.FileProcessingTask) error {
	log.Infof("[Processor] 开始处理文件, BatchID: %s, FileID: %d, ObjectKey: %s", task.BatchID, task.FileID, task.ObjectKey)

	// 1. 文件进入 processing；批次的首个任务把批次从 committed 带入 processing
	if err := p.batchService.UpdateFileStatus(ctx, task.FileID, model.FileStatusProcessing, nil); err != nil {
		return fmt.Errorf("更新文件状态为 processing 失败: %w", err)
	}
	batch, err := p.batchService.GetBatchWithFiles(task.BatchID)
	if err != nil {
		return fmt.Errorf("加载批次失败: %w", err)
	}
	if batch.Status == model.BatchStatusCommitted {
		if err := p.batchService.TransitionBatch(ctx, task.BatchID, model.BatchStatusProcessing, nil); err != nil {
			log.Warnf("[Processor] 批次进入 processing 失败（可能已被并发任务驱动）, BatchID: %s, error: %v", task.BatchID, err)
		}
	}

	if err := p.processFile(ctx, task); err != nil {
		log.Errorf("[Processor] 文件处理失败, BatchID: %s, FileID: %d, error: %v", task.BatchID, task.FileID, err)
		msg := err.Error()
		if ferr := p.batchService.UpdateFileStatus(ctx, task.FileID, model.FileStatusFailed, &msg); ferr != nil {
			log.Errorf("[Processor] 标记文件失败状态时出错, FileID: %d, error: %v", task.FileID, ferr)
		}
		p.finalizeBatch(ctx, task.BatchID)
		return err
	}

	if err := p.batchService.UpdateFileStatus(ctx, task.FileID, model.FileStatusComplete, nil); err != nil {
		return fmt.Errorf("更新文件状态为 complete 失败: %w", err)
	}
	p.finalizeBatch(ctx, task.BatchID)

	log.Infof("[Processor] 文件处理成功完成, BatchID: %s, FileID: %d", task.BatchID, task.FileID)
	return nil
}

// processFile 执行单个文件的实质处理步骤。
func (p *Processor) processFile(ctx context.Context, task tasks.FileProcessingTask) error {
	// 2. 校验对象存储中的内容确实存在
	size, err := p.store.Stat(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("对象存储中找不到文件内容 (key=%s): %w", task.ObjectKey, err)
	}
	log.Infof("[Processor] 对象校验通过, ObjectKey: %s, Size: %d 字节", task.ObjectKey, size)

	// 3. 生成正式文档实体
	doc := &model.Document{
		CompanyID:   task.CompanyID,
		OwnerUserID: task.UserID,
		BatchFileID: task.FileID,
		Title:       task.Filename,
		MimeType:    task.MimeType,
		ObjectKey:   task.ObjectKey,
		SizeBytes:   size,
	}
	if err := p.docRepo.Create(doc); err != nil {
		return fmt.Errorf("创建文档记录失败: %w", err)
	}
	if err := p.batchService.SetFileDocumentID(task.FileID, doc.ID); err != nil {
		return fmt.Errorf("回填文档 ID 失败: %w", err)
	}

	// 4. 写入检索索引
	esDoc := model.EsDocument{
		DocumentID: doc.ID,
		BatchID:    task.BatchID,
		Title:      doc.Title,
		MimeType:   doc.MimeType,
		CompanyID:  doc.CompanyID,
		UserID:     doc.OwnerUserID,
		CreatedAt:  time.Now().Format("2006-01-02 15:04:05"),
	}
	if err := p.indexer.Index(ctx, esDoc); err != nil {
		return fmt.Errorf("索引文档到 Elasticsearch 失败: %w", err)
	}
	return nil
}

// finalizeBatch 在所有文件都到达终态后收尾批次：
// 全部失败 → failed，否则 → complete（部分失败体现在 failedFiles 计数里）。
func (p *Processor) finalizeBatch(ctx context.Context, batchID string) {
	batch, err := p.batchService.GetBatchWithFiles(batchID)
	if err != nil {
		log.Errorf("[Processor] 批次收尾时加载批次失败, BatchID: %s, error: %v", batchID, err)
		return
	}
	if batch.Status != model.BatchStatusProcessing {
		return
	}

	completed, failed := 0, 0
	for _, f := range batch.Files {
		switch f.Status {
		case model.FileStatusComplete:
			completed++
		case model.FileStatusFailed:
			failed++
		}
	}
	// 未提交的 queued 文件不参与收尾判定：提交时只为 uploaded 文件投递任务
	pending := 0
	for _, f := range batch.Files {
		if f.Status == model.FileStatusUploaded || f.Status == model.FileStatusProcessing {
			pending++
		}
	}
	if pending > 0 {
		return
	}

	next := model.BatchStatusComplete
	var errMsg *string
	if completed == 0 && failed > 0 {
		next = model.BatchStatusFailed
		msg := fmt.Sprintf("批次中的 %d 个文件全部处理失败", failed)
		errMsg = &msg
	}
	if err := p.batchService.TransitionBatch(ctx, batchID, next, errMsg); err != nil {
		log.Warnf("[Processor] 批次收尾状态迁移失败（可能已被并发任务收尾）, BatchID: %s, error: %v", batchID, err)
	}
}
