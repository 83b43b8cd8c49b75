package job

import (
	"fmt"
	"time"
)

// SampleOverrides replaces parts of the sample job. Empty fields keep the defaults.
type SampleOverrides struct {
	VideoID  string
	VideoKey string
	VideoURL string
	FileName string
}

// NewSample builds the test job used by POST /test-job and the publish-job CLI.
// JobID is left empty so the publisher assigns one.
func NewSample(o SampleOverrides, now time.Time) *Descriptor {
	now = now.UTC()

	videoID := o.VideoID
	if videoID == "" {
		videoID = fmt.Sprintf("video_%d", now.UnixMilli())
	}
	key := o.VideoKey
	if key == "" {
		key = "uploads/test-video.mp4"
	}
	sourceURL := o.VideoURL
	if sourceURL == "" {
		sourceURL = "https://example.com/test-video.mp4"
	}
	fileName := o.FileName
	if fileName == "" {
		fileName = "test-video.mp4"
	}

	return &Descriptor{
		VideoID:        videoID,
		SourceLocation: key,
		SourceURL:      sourceURL,
		OutputLocation: "test-bucket",
		CallbackURL:    "https://example.com/callback",
		Metadata: Metadata{
			OriginalFileName: fileName,
			FileSize:         1024000,
			MimeType:         "video/mp4",
			UploadedAt:       now.UTC(),
		},
		Options: Options{
			VideoCompression: true,
			AudioRepair:      true,
			TargetBitrate:    "2M",
			AudioQuality:     "high",
		},
		CreatedAt: now.UTC(),
	}
}
