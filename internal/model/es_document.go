package model

// EsDocument 是索引到 Elasticsearch 的文档条目结构。
// 它只承载可检索的元数据，不包含文件内容本身。
type EsDocument struct {
	DocumentID uint   `json:"document_id"`
	BatchID    string `json:"batch_id"`
	Title      string `json:"title"`
	MimeType   string `json:"mime_type"`
	CompanyID  int64  `json:"company_id"`
	UserID     uint   `json:"user_id"`
	CreatedAt  string `json:"created_at"`
}
