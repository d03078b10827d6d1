package dto

// IngestFileRequest carries raw content with caller-supplied attribution
// (the legacy ingestion shape).
type IngestFileRequest struct {
	Filename string   `json:"filename" binding:"required"`
	Author   string   `json:"author" binding:"required"`
	Content  string   `json:"content" binding:"required"`
	Tags     []string `json:"tags,omitempty"`
}

// IngestResponse reports the outcome of an ingestion call.
type IngestResponse struct {
	Status   string `json:"status"`
	PacketID string `json:"packet_id,omitempty"`
	Message  string `json:"message,omitempty"`
}
