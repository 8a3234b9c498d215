// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"docspace-go/internal/model"
	"docspace-go/internal/repository"
	"docspace-go/pkg/log"
	"docspace-go/pkg/tasks"
)

const (
	// batchIDRandLen 是批次 ID 随机后缀的长度。
	batchIDRandLen = 6
	// createBatchMaxAttempts 限制主键撞车后重新生成 ID 的重试次数。
	createBatchMaxAttempts = 3
)

// ErrIllegalTransition 表示请求的批次状态迁移不在状态机允许的范围内。
var ErrIllegalTransition = errors.New("批次状态迁移不合法")

// ErrNoUploadedFiles 表示批次中没有任何已上传的文件，提交会让批次永远停在
// committed（收尾只由处理任务驱动），因此被拒绝。
var ErrNoUploadedFiles = errors.New("批次中没有已上传的文件")

// batchTransitions 定义了批次生命周期状态机：
// created → uploading → committed → processing → complete，
// 任意非终态都可以进入 failed；complete/failed 是终态。
var batchTransitions = map[model.BatchStatus][]model.BatchStatus{
	model.BatchStatusCreated:    {model.BatchStatusUploading, model.BatchStatusCommitted, model.BatchStatusFailed},
	model.BatchStatusUploading:  {model.BatchStatusCommitted, model.BatchStatusFailed},
	model.BatchStatusCommitted:  {model.BatchStatusProcessing, model.BatchStatusFailed},
	model.BatchStatusProcessing: {model.BatchStatusComplete, model.BatchStatusFailed},
	model.BatchStatusComplete:   {},
	model.BatchStatusFailed:     {},
}

// CanTransition 判断从 from 到 to 的状态迁移是否合法。
func CanTransition(from, to model.BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// batchIDAlphabet 是随机后缀的字符集，与时间戳的 base36 编码保持同一字符空间。
const batchIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateBatchID 生成形如 batch_<base36 毫秒时间戳>_<6 位随机串> 的批次 ID。
// 该 ID 只是概率意义上的唯一，真正的碰撞兜底是数据库主键约束，
// CreateBatch 捕获主键冲突后会重新生成并重试。
func GenerateBatchID() string {
	suffix := make([]byte, batchIDRandLen)
	if _, err := rand.Read(suffix); err != nil {
		// 随机源不可用时退化为纳秒时间戳后缀
		return fmt.Sprintf("batch_%s_%06d", strconv.FormatInt(time.Now().UnixMilli(), 36), time.Now().UnixNano()%1000000)
	}
	for i, b := range suffix {
		suffix[i] = batchIDAlphabet[int(b)%len(batchIDAlphabet)]
	}
	return fmt.Sprintf("batch_%s_%s", strconv.FormatInt(time.Now().UnixMilli(), 36), string(suffix))
}

// CoerceFileSize 将调用方给出的文件大小净化为合法的字节数。
// nil 和 NaN 归一为 nil；小数向零截断；负数钳到 0。
// 畸形输入被静默修正而不是拒绝，这是有意的宽容策略。
func CoerceFileSize(size *float64) *int64 {
	if size == nil || math.IsNaN(*size) {
		return nil
	}
	v := int64(math.Trunc(*size))
	if v < 0 {
		v = 0
	}
	return &v
}

// BatchFileInput 是创建批次时单个文件的描述。
type BatchFileInput struct {
	Filename     string                 `json:"filename" binding:"required"`
	RelativePath *string                `json:"relativePath"`
	MimeType     *string                `json:"mimeType"`
	Size         *float64               `json:"size"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// TaskProducer 抽象了向消息队列投递文件处理任务的能力，解耦具体的 Kafka 客户端。
type TaskProducer func(task tasks.FileProcessingTask) error

// BatchService 接口定义了上传批次相关的业务操作。
type BatchService interface {
	CreateBatch(ctx context.Context, userID uint, companyID int64, files []BatchFileInput, metadata map[string]interface{}) (*model.UploadBatch, error)
	GetBatchOwnedByUser(batchID string, userID uint, withFiles bool) (*model.UploadBatch, error)
	GetBatchWithFiles(batchID string) (*model.UploadBatch, error)
	RefreshAggregates(ctx context.Context, batchID string) (*model.UploadBatch, error)
	TransitionBatch(ctx context.Context, batchID string, next model.BatchStatus, errorMessage *string) error
	MarkFileUploaded(ctx context.Context, batchID string, fileID uint, userID uint, objectKey string) (*model.UploadBatchFile, error)
	UpdateFileStatus(ctx context.Context, fileID uint, status model.FileStatus, errorMessage *string) error
	SetFileDocumentID(fileID uint, documentID uint) error
	CommitBatch(ctx context.Context, batchID string, userID uint) (*model.UploadBatch, error)
	GetProgress(ctx context.Context, batchID string, userID uint) (*repository.BatchProgress, error)
	Serialize(batch *model.UploadBatch) *BatchDTO
}

// batchService 是 BatchService 接口的实现。
type batchService struct {
	batchRepo   repository.BatchRepository
	produceTask TaskProducer
}

// NewBatchService 创建一个新的 BatchService 实例。
// produceTask 可以为 nil，此时提交批次不投递处理任务（单测场景）。
func NewBatchService(batchRepo repository.BatchRepository, produceTask TaskProducer) BatchService {
	return &batchService{batchRepo: batchRepo, produceTask: produceTask}
}

// CreateBatch 创建一个批次及其全部文件记录。
// 批次行和文件行在同一个事务内落库；主键撞车时重新生成 ID 再试。
func (s *batchService) CreateBatch(ctx context.Context, userID uint, companyID int64, files []BatchFileInput, metadata map[string]interface{}) (*model.UploadBatch, error) {
	log.Infof("[CreateBatch] 开始创建批次，用户ID: %d, 租户ID: %d, 文件数: %d", userID, companyID, len(files))

	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("序列化批次元数据失败: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= createBatchMaxAttempts; attempt++ {
		batch := &model.UploadBatch{
			ID:              GenerateBatchID(),
			CompanyID:       companyID,
			CreatedByUserID: userID,
			Status:          model.BatchStatusCreated,
			TotalFiles:      len(files),
			Metadata:        metaJSON,
		}

		fileRows := make([]*model.UploadBatchFile, 0, len(files))
		for _, in := range files {
			fileMeta, err := marshalMetadata(in.Metadata)
			if err != nil {
				return nil, fmt.Errorf("序列化文件元数据失败 (%s): %w", in.Filename, err)
			}
			fileRows = append(fileRows, &model.UploadBatchFile{
				CompanyID:     companyID,
				UserID:        userID,
				Filename:      in.Filename,
				RelativePath:  in.RelativePath,
				MimeType:      in.MimeType,
				FileSizeBytes: CoerceFileSize(in.Size),
				Status:        model.FileStatusQueued,
				Metadata:      fileMeta,
			})
		}

		err := s.batchRepo.CreateBatchWithFiles(ctx, batch, fileRows)
		if err == nil {
			for _, f := range fileRows {
				batch.Files = append(batch.Files, *f)
			}
			log.Infof("[CreateBatch] 批次创建成功, BatchID: %s, TotalFiles: %d", batch.ID, batch.TotalFiles)
			return batch, nil
		}
		lastErr = err
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 主键撞车，极小概率事件，换个 ID 重来
			log.Warnf("[CreateBatch] 批次 ID 冲突，重新生成后重试 (attempt %d): %s", attempt, batch.ID)
			continue
		}
		log.Errorf("[CreateBatch] 批次创建失败, error: %v", err)
		return nil, err
	}
	log.Errorf("[CreateBatch] 批次创建失败：连续 %d 次主键冲突, error: %v", createBatchMaxAttempts, lastErr)
	return nil, fmt.Errorf("创建批次失败: %w", lastErr)
}

// GetBatchOwnedByUser 按所有权查找批次。
// 返回 (nil, nil) 统一表示“不存在或不属于该用户”，调用方据此响应 404，
// 不向非所有者泄露批次 ID 的存在性。
func (s *batchService) GetBatchOwnedByUser(batchID string, userID uint, withFiles bool) (*model.UploadBatch, error) {
	batch, err := s.batchRepo.FindByIDAndUser(batchID, userID, withFiles)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return batch, nil
}

// GetBatchWithFiles 不做所有权检查地加载批次及其文件，仅供内部调用方使用。
func (s *batchService) GetBatchWithFiles(batchID string) (*model.UploadBatch, error) {
	return s.batchRepo.GetWithFiles(batchID)
}

// RefreshAggregates 重算批次的聚合计数并刷新进度快照缓存。
func (s *batchService) RefreshAggregates(ctx context.Context, batchID string) (*model.UploadBatch, error) {
	batch, err := s.batchRepo.RefreshAggregates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := s.batchRepo.CacheProgress(ctx, progressOf(batch)); err != nil {
		log.Warnf("[RefreshAggregates] 刷新进度快照缓存失败, BatchID: %s, error: %v", batchID, err)
	}
	return batch, nil
}

// TransitionBatch 驱动批次进入下一个状态。
// 迁移必须被状态机允许，否则返回 ErrIllegalTransition；
// 对应的里程碑时间戳在迁移时设置，且因终态不可再迁移而天然至多设置一次。
func (s *batchService) TransitionBatch(ctx context.Context, batchID string, next model.BatchStatus, errorMessage *string) error {
	batch, err := s.batchRepo.GetWithFiles(batchID)
	if err != nil {
		return err
	}
	if !CanTransition(batch.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, batch.Status, next)
	}

	now := time.Now()
	fields := map[string]interface{}{}
	switch next {
	case model.BatchStatusCommitted:
		fields["committed_at"] = now
	case model.BatchStatusProcessing:
		fields["processing_started_at"] = now
	case model.BatchStatusComplete:
		fields["completed_at"] = now
	case model.BatchStatusFailed:
		fields["failed_at"] = now
		if errorMessage != nil {
			fields["error_message"] = *errorMessage
		}
	}
	if err := s.batchRepo.UpdateStatus(batchID, next, fields); err != nil {
		return err
	}
	log.Infof("[TransitionBatch] 批次状态迁移成功, BatchID: %s, %s -> %s", batchID, batch.Status, next)
	return nil
}

// MarkFileUploaded 将文件标记为已上传并记录对象键。
// 批次的首个文件上传会把批次从 created 带入 uploading。
func (s *batchService) MarkFileUploaded(ctx context.Context, batchID string, fileID uint, userID uint, objectKey string) (*model.UploadBatchFile, error) {
	batch, err := s.GetBatchOwnedByUser(batchID, userID, false)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, gorm.ErrRecordNotFound
	}

	file, err := s.batchRepo.GetFile(batchID, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.batchRepo.SetFileObjectKey(file.ID, objectKey); err != nil {
		return nil, err
	}
	if err := s.batchRepo.UpdateFileStatus(ctx, file.ID, model.FileStatusUploaded, nil); err != nil {
		return nil, err
	}
	if batch.Status == model.BatchStatusCreated {
		if err := s.TransitionBatch(ctx, batchID, model.BatchStatusUploading, nil); err != nil {
			if !errors.Is(err, ErrIllegalTransition) {
				return nil, err
			}
			// 并发的首个上传已经完成了这次迁移
			log.Warnf("[MarkFileUploaded] 批次已被并发上传带入 uploading, BatchID: %s", batchID)
		}
	}
	return s.batchRepo.GetFile(batchID, fileID)
}

// UpdateFileStatus 更新单个文件的状态（含同事务的聚合刷新）。
func (s *batchService) UpdateFileStatus(ctx context.Context, fileID uint, status model.FileStatus, errorMessage *string) error {
	return s.batchRepo.UpdateFileStatus(ctx, fileID, status, errorMessage)
}

// SetFileDocumentID 回填文件到正式文档实体的弱引用。
func (s *batchService) SetFileDocumentID(fileID uint, documentID uint) error {
	return s.batchRepo.SetFileDocumentID(fileID, documentID)
}

// CommitBatch 提交批次：状态迁移到 committed，并为每个已上传的文件投递处理任务。
// 没有任何已上传文件的非空批次拒绝提交；空批次提交后直接走完生命周期。
func (s *batchService) CommitBatch(ctx context.Context, batchID string, userID uint) (*model.UploadBatch, error) {
	batch, err := s.GetBatchOwnedByUser(batchID, userID, true)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, gorm.ErrRecordNotFound
	}

	uploaded := 0
	for _, f := range batch.Files {
		if f.Status == model.FileStatusUploaded {
			uploaded++
		}
	}
	if len(batch.Files) > 0 && uploaded == 0 {
		return nil, ErrNoUploadedFiles
	}

	if err := s.TransitionBatch(ctx, batchID, model.BatchStatusCommitted, nil); err != nil {
		return nil, err
	}

	// 空批次没有可处理的文件，不会有任务驱动收尾，这里直接完成
	if len(batch.Files) == 0 {
		if err := s.TransitionBatch(ctx, batchID, model.BatchStatusProcessing, nil); err != nil {
			return nil, err
		}
		if err := s.TransitionBatch(ctx, batchID, model.BatchStatusComplete, nil); err != nil {
			return nil, err
		}
		return s.batchRepo.GetWithFiles(batchID)
	}

	if s.produceTask != nil {
		for _, f := range batch.Files {
			if f.Status != model.FileStatusUploaded || f.ObjectKey == nil {
				continue
			}
			task := tasks.FileProcessingTask{
				BatchID:   batch.ID,
				FileID:    f.ID,
				ObjectKey: *f.ObjectKey,
				Filename:  f.Filename,
				MimeType:  strOrEmpty(f.MimeType),
				UserID:    f.UserID,
				CompanyID: f.CompanyID,
			}
			if err := s.produceTask(task); err != nil {
				// 投递失败不回滚提交；调用方可重新提交触发补投
				log.Errorf("[CommitBatch] 投递文件处理任务失败, BatchID: %s, FileID: %d, error: %v", batch.ID, f.ID, err)
			}
		}
	}

	return s.batchRepo.GetWithFiles(batchID)
}

// GetProgress 返回批次的进度快照，优先命中 Redis 缓存，未命中时回源重算。
func (s *batchService) GetProgress(ctx context.Context, batchID string, userID uint) (*repository.BatchProgress, error) {
	batch, err := s.GetBatchOwnedByUser(batchID, userID, false)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	cached, err := s.batchRepo.GetCachedProgress(ctx, batchID)
	if err != nil {
		log.Warnf("[GetProgress] 读取进度快照缓存失败, BatchID: %s, error: %v", batchID, err)
	}
	if cached != nil {
		return cached, nil
	}

	refreshed, err := s.RefreshAggregates(ctx, batchID)
	if err != nil {
		return nil, err
	}
	progress := progressOf(refreshed)
	return &progress, nil
}

// progressOf 从批次行提取进度快照。
func progressOf(batch *model.UploadBatch) repository.BatchProgress {
	return repository.BatchProgress{
		BatchID:        batch.ID,
		Status:         batch.Status,
		TotalFiles:     batch.TotalFiles,
		UploadedFiles:  batch.UploadedFiles,
		ProcessedFiles: batch.ProcessedFiles,
		FailedFiles:    batch.FailedFiles,
	}
}

// marshalMetadata 将自由格式元数据编码为 JSON 列；空 map 存为 NULL。
func marshalMetadata(metadata map[string]interface{}) (datatypes.JSON, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
