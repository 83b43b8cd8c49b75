// Package job defines the video compression job descriptor exchanged between
// publishers and workers, and its JSON wire format.
package job

import (
	"time"
)

// SchemaVersion is the wire schema version written by this build.
// Payloads without a version are read as version 1.
const SchemaVersion = 1

// Descriptor identifies one unit of compression work.
// JobID is unique per publish; VideoID is not. Times travel as UTC.
type Descriptor struct {
	SchemaVersion  int       `json:"schemaVersion"`
	JobID          string    `json:"jobId" validate:"required"`
	VideoID        string    `json:"videoId"`
	SourceLocation string    `json:"sourceLocation" validate:"required"`
	SourceURL      string    `json:"sourceUrl,omitempty" validate:"omitempty,url"`
	OutputLocation string    `json:"outputLocation"`
	CallbackURL    string    `json:"callbackUrl,omitempty" validate:"omitempty,url"`
	Metadata       Metadata  `json:"metadata"`
	Options        Options   `json:"options"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Metadata describes the uploaded source file
type Metadata struct {
	OriginalFileName string            `json:"originalFileName,omitempty"`
	FileSize         int64             `json:"fileSize,omitempty" validate:"gte=0"`
	MimeType         string            `json:"mimeType,omitempty"`
	UploadedAt       time.Time         `json:"uploadedAt"`
	Attributes       map[string]string `json:"attributes"`
}

// Options are the processing flags passed through to the compression handler
type Options struct {
	VideoCompression bool   `json:"videoCompression"`
	AudioRepair      bool   `json:"audioRepair"`
	TargetBitrate    string `json:"targetBitrate,omitempty"`
	AudioQuality     string `json:"audioQuality,omitempty"`
}
