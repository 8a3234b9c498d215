// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// FileProcessingTask represents the data structure for a file processing job.
// One task is produced per uploaded file when its batch is committed.
type FileProcessingTask struct {
	BatchID   string `json:"batch_id"`
	FileID    uint   `json:"file_id"`
	ObjectKey string `json:"object_key"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	UserID    uint   `json:"user_id"`
	CompanyID int64  `json:"company_id"`
}
