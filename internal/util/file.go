package util

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

var ErrInvalidFileType = errors.New("invalid file type")

// ValidateMimeType 读取文件头校验 MIME 类型
// allowedTypes: 允许的 MIME 前缀或完整类型，如 "audio/", "video/"
func ValidateMimeType(reader io.Reader, allowedTypes []string) (string, error) {
	buffer := make([]byte, 512)
	n, err := reader.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	mimeType := http.DetectContentType(buffer[:n])

	for _, allowed := range allowedTypes {
		if strings.HasPrefix(mimeType, allowed) || mimeType == allowed {
			return mimeType, nil
		}
	}

	return mimeType, errors.Join(ErrInvalidFileType, errors.New(mimeType))
}

// HasAllowedExtension 忽略大小写比较扩展名
func HasAllowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}
