package util

const DateFormat = "2006-01-02"

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

// 上传媒体相关常量
const (
	MimeAudio       = "audio/"
	MimeVideo       = "video/"
	MimeOgg         = "application/ogg"
	MimeOctetStream = "application/octet-stream"
	MaxMediaSize    = 100 << 20
)

var (
	AllowedMediaExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".webm", ".mp4", ".mov"}
	// mov 等容器常被识别为 octet-stream，扩展名已先行校验
	AllowedMediaMimeTypes  = []string{MimeAudio, MimeVideo, MimeOgg, MimeOctetStream}
)

const (
	KindExam      = "exam"
	KindInterview = "interview"
)
