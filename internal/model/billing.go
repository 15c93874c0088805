package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanBasic      PlanType = "basic"
	PlanPremium    PlanType = "premium"
	PlanEnterprise PlanType = "enterprise"
)

type BillingPeriod string

const (
	BillingMonthly   BillingPeriod = "monthly"
	BillingQuarterly BillingPeriod = "quarterly"
	BillingYearly    BillingPeriod = "yearly"
	BillingLifetime  BillingPeriod = "lifetime"
)

// Next 计算下一个周期的起点，lifetime 没有周期
func (p BillingPeriod) Next(from time.Time) (time.Time, bool) {
	switch p {
	case BillingMonthly:
		return from.AddDate(0, 1, 0), true
	case BillingQuarterly:
		return from.AddDate(0, 3, 0), true
	case BillingYearly:
		return from.AddDate(1, 0, 0), true
	}
	return time.Time{}, false
}

// swagger:model PaymentPlan
type PaymentPlan struct {
	BaseModel
	Name          string                      `gorm:"size:100;not null" json:"name"`
	PlanType      PlanType                    `gorm:"size:20;not null" json:"planType"`
	BillingPeriod BillingPeriod               `gorm:"size:20;not null" json:"billingPeriod"`
	Price         decimal.Decimal             `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency      string                      `gorm:"size:3;default:'USD'" json:"currency"`
	MaxExams      *int                        `json:"maxExams"` // nil 表示不限
	MaxInterviews *int                        `json:"maxInterviews"`
	Features      datatypes.JSONSlice[string] `json:"features"`
	IsActive      bool                        `gorm:"default:true" json:"isActive"`
	IsFeatured    bool                        `gorm:"default:false" json:"isFeatured"`
}

func (PaymentPlan) TableName() string {
	return "payment_plans"
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// swagger:model Subscription
type Subscription struct {
	BaseModel
	UserID             uint               `gorm:"not null;index" json:"userId"`
	PlanID             uint               `gorm:"not null" json:"planId"`
	Status             SubscriptionStatus `gorm:"size:20;not null;index" json:"status"`
	StartDate          time.Time          `json:"startDate"`
	EndDate            *time.Time         `json:"endDate"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   *time.Time         `json:"currentPeriodEnd"`
	UsagePeriod        int                `gorm:"default:0" json:"usagePeriod"` // 已滚动的周期数
	ExamsUsed          int                `gorm:"default:0" json:"examsUsed"`
	InterviewsUsed     int                `gorm:"default:0" json:"interviewsUsed"`
	AutoRenew          bool               `gorm:"default:true" json:"autoRenew"`
	CancelledAt        *time.Time         `json:"cancelledAt"`

	Plan *PaymentPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive 状态为 active/trial 且未过期
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrial {
		return false
	}
	return s.EndDate == nil || now.Before(*s.EndDate)
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// swagger:model Payment
type Payment struct {
	BaseModel
	UserID         uint            `gorm:"not null;index" json:"userId"`
	SubscriptionID *uint           `gorm:"index" json:"subscriptionId"`
	TransactionID  string          `gorm:"size:32;uniqueIndex;not null" json:"transactionId"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency       string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status         PaymentStatus   `gorm:"size:20;not null" json:"status"`
	Description    string          `gorm:"size:255" json:"description"`
	CompletedAt    *time.Time      `json:"completedAt"`
}

func (Payment) TableName() string {
	return "payments"
}

// swagger:model Invoice
type Invoice struct {
	BaseModel
	UserID        uint            `gorm:"not null;index" json:"userId"`
	PaymentID     uint            `gorm:"not null;uniqueIndex" json:"paymentId"`
	InvoiceNumber string          `gorm:"size:32;uniqueIndex;not null" json:"invoiceNumber"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency      string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status        string          `gorm:"size:20;default:'paid'" json:"status"`
	IssuedAt      time.Time       `json:"issuedAt"`
}

func (Invoice) TableName() string {
	return "invoices"
}
