// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"docspace-go/internal/model"
)

// BatchProgress 是缓存在 Redis 中的批次进度快照，供轮询接口低成本读取。
type BatchProgress struct {
	BatchID        string            `json:"batchId"`
	Status         model.BatchStatus `json:"status"`
	TotalFiles     int               `json:"totalFiles"`
	UploadedFiles  int               `json:"uploadedFiles"`
	ProcessedFiles int               `json:"processedFiles"`
	FailedFiles    int               `json:"failedFiles"`
}

// BatchRepository 接口定义了上传批次相关的数据持久化操作。
type BatchRepository interface {
	// 批次操作
	CreateBatchWithFiles(ctx context.Context, batch *model.UploadBatch, files []*model.UploadBatchFile) error
	FindByIDAndUser(batchID string, userID uint, withFiles bool) (*model.UploadBatch, error)
	GetWithFiles(batchID string) (*model.UploadBatch, error)
	RefreshAggregates(ctx context.Context, batchID string) (*model.UploadBatch, error)
	UpdateStatus(batchID string, status model.BatchStatus, fields map[string]interface{}) error

	// 文件操作
	GetFile(batchID string, fileID uint) (*model.UploadBatchFile, error)
	ListFiles(batchID string) ([]model.UploadBatchFile, error)
	UpdateFileStatus(ctx context.Context, fileID uint, status model.FileStatus, errorMessage *string) error
	SetFileObjectKey(fileID uint, objectKey string) error
	SetFileDocumentID(fileID uint, documentID uint) error

	// 进度快照缓存 (Redis)
	CacheProgress(ctx context.Context, progress BatchProgress) error
	GetCachedProgress(ctx context.Context, batchID string) (*BatchProgress, error)
}

// progressCacheTTL 限定进度快照的新鲜度，过期后回源数据库。
const progressCacheTTL = 30 * time.Second

// batchRepository 是 BatchRepository 接口的 GORM+Redis 实现。
type batchRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewBatchRepository 创建一个新的 BatchRepository 实例。
// redisClient 可以为 nil，此时进度快照缓存被跳过（单测场景）。
func NewBatchRepository(db *gorm.DB, redisClient *redis.Client) BatchRepository {
	return &batchRepository{db: db, redisClient: redisClient}
}

// getRedisProgressKey generates the redis key for the progress snapshot.
func (r *batchRepository) getRedisProgressKey(batchID string) string {
	return "batch:progress:" + batchID
}

// CreateBatchWithFiles 在单个事务内创建批次记录和它的全部文件记录。
// 先插入批次行，再批量插入文件行；任何一步失败整个事务回滚，不留下孤儿批次。
func (r *batchRepository) CreateBatchWithFiles(ctx context.Context, batch *model.UploadBatch, files []*model.UploadBatchFile) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		for _, f := range files {
			f.BatchID = batch.ID
		}
		return tx.Create(&files).Error
	})
}

// FindByIDAndUser 按批次 ID 和创建者双条件查找批次。
// 所有权在查询谓词中强制：非创建者拿到的是 record not found，
// 无法区分“不存在”和“不属于自己”，避免泄露批次 ID 的存在性。
func (r *batchRepository) FindByIDAndUser(batchID string, userID uint, withFiles bool) (*model.UploadBatch, error) {
	var batch model.UploadBatch
	query := r.db.Where("id = ? AND created_by_user_id = ?", batchID, userID)
	if withFiles {
		query = query.Preload("Files")
	}
	if err := query.First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetWithFiles 按批次 ID 查找批次并加载文件，不做所有权检查。
// 仅供后台管道等已授权的内部调用方使用，不暴露到面向用户的路径。
func (r *batchRepository) GetWithFiles(batchID string) (*model.UploadBatch, error) {
	var batch model.UploadBatch
	if err := r.db.Preload("Files").First(&batch, "id = ?", batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// aggregateCounts 承载一次文件扫描得到的聚合计数。
type aggregateCounts struct {
	Uploaded  int
	Processed int
	Failed    int
}

// RefreshAggregates 扫描批次的全部文件行并重算三个聚合计数：
// uploaded = 状态不为 queued 的文件数；processed = complete；failed = failed。
// 计数无条件覆写回批次行，结果只取决于当前文件状态，重复调用是幂等的。
func (r *batchRepository) RefreshAggregates(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	var batch model.UploadBatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts, err := scanAggregates(tx, batchID)
		if err != nil {
			return err
		}
		if err := tx.Model(&model.UploadBatch{}).Where("id = ?", batchID).
			Updates(map[string]interface{}{
				"uploaded_files":  counts.Uploaded,
				"processed_files": counts.Processed,
				"failed_files":    counts.Failed,
			}).Error; err != nil {
			return err
		}
		return tx.First(&batch, "id = ?", batchID).Error
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// scanAggregates 在一次查询内统计批次文件的聚合计数。
func scanAggregates(tx *gorm.DB, batchID string) (aggregateCounts, error) {
	var counts aggregateCounts
	err := tx.Model(&model.UploadBatchFile{}).
		Select(
			"COALESCE(SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END), 0) AS uploaded, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS processed, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed",
			model.FileStatusQueued, model.FileStatusComplete, model.FileStatusFailed,
		).
		Where("batch_id = ?", batchID).
		Scan(&counts).Error
	return counts, err
}

// UpdateStatus 更新批次状态以及显式给出的时间戳/错误字段。
// fields 中未出现的列保持不变；状态迁移的合法性由 service 层的状态机把关。
func (r *batchRepository) UpdateStatus(batchID string, status model.BatchStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	return r.db.Model(&model.UploadBatch{}).Where("id = ?", batchID).Updates(updates).Error
}

// GetFile 按批次 ID 和文件 ID 双条件查找文件记录。
func (r *batchRepository) GetFile(batchID string, fileID uint) (*model.UploadBatchFile, error) {
	var file model.UploadBatchFile
	if err := r.db.Where("id = ? AND batch_id = ?", fileID, batchID).First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// ListFiles 返回批次的全部文件记录。
func (r *batchRepository) ListFiles(batchID string) ([]model.UploadBatchFile, error) {
	var files []model.UploadBatchFile
	err := r.db.Where("batch_id = ?", batchID).Order("id asc").Find(&files).Error
	return files, err
}

// UpdateFileStatus 更新单个文件的状态，并在同一事务内刷新父批次的聚合计数，
// 消除计数与文件状态不一致的窗口。
func (r *batchRepository) UpdateFileStatus(ctx context.Context, fileID uint, status model.FileStatus, errorMessage *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file model.UploadBatchFile
		if err := tx.First(&file, "id = ?", fileID).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"status": status}
		if errorMessage != nil {
			updates["error_message"] = *errorMessage
		}
		if err := tx.Model(&model.UploadBatchFile{}).Where("id = ?", fileID).Updates(updates).Error; err != nil {
			return err
		}
		counts, err := scanAggregates(tx, file.BatchID)
		if err != nil {
			return err
		}
		return tx.Model(&model.UploadBatch{}).Where("id = ?", file.BatchID).
			Updates(map[string]interface{}{
				"uploaded_files":  counts.Uploaded,
				"processed_files": counts.Processed,
				"failed_files":    counts.Failed,
			}).Error
	})
}

// SetFileObjectKey 记录文件内容在对象存储中的键。
func (r *batchRepository) SetFileObjectKey(fileID uint, objectKey string) error {
	return r.db.Model(&model.UploadBatchFile{}).Where("id = ?", fileID).
		Update("object_key", objectKey).Error
}

// SetFileDocumentID 回填文件到正式文档实体的弱引用。
func (r *batchRepository) SetFileDocumentID(fileID uint, documentID uint) error {
	return r.db.Model(&model.UploadBatchFile{}).Where("id = ?", fileID).
		Update("document_id", documentID).Error
}

// CacheProgress 将进度快照写入 Redis，带短 TTL。
func (r *batchRepository) CacheProgress(ctx context.Context, progress BatchProgress) error {
	if r.redisClient == nil {
		return nil
	}
	payload, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, r.getRedisProgressKey(progress.BatchID), payload, progressCacheTTL).Err()
}

// GetCachedProgress 读取 Redis 中的进度快照；缓存未命中时返回 (nil, nil)。
func (r *batchRepository) GetCachedProgress(ctx context.Context, batchID string) (*BatchProgress, error) {
	if r.redisClient == nil {
		return nil, nil
	}
	payload, err := r.redisClient.Get(ctx, r.getRedisProgressKey(batchID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var progress BatchProgress
	if err := json.Unmarshal(payload, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}
