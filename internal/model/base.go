package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// swagger:model
type BaseModel struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// NewReference 生成形如 PREFIX-XXXXXXXX 的业务流水号
func NewReference(prefix string, n int) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > len(raw) {
		n = len(raw)
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(raw[:n]))
}

// ActiveKey 进行中的尝试的唯一键，终态时置空
func ActiveKey(kind string, userID, definitionID uint) *string {
	key := fmt.Sprintf("%s:%d:%d", kind, userID, definitionID)
	return &key
}
