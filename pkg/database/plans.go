package database

import (
	"prepwise_backend/internal/model"

	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func DefaultPlans() []model.PaymentPlan {
	return []model.PaymentPlan{
		{
			Name:          "Free",
			PlanType:      model.PlanFree,
			BillingPeriod: model.BillingMonthly,
			Price:         decimal.Zero,
			Currency:      "USD",
			MaxExams:      intPtr(3),
			MaxInterviews: intPtr(1),
			Features:      []string{"3 exams per month", "1 mock interview per month"},
			IsActive:      true,
		},
		{
			Name:          "Basic",
			PlanType:      model.PlanBasic,
			BillingPeriod: model.BillingMonthly,
			Price:         decimal.RequireFromString("9.99"),
			Currency:      "USD",
			MaxExams:      intPtr(30),
			MaxInterviews: intPtr(10),
			Features:      []string{"30 exams per month", "10 mock interviews per month", "AI feedback"},
			IsActive:      true,
		},
		{
			Name:          "Premium",
			PlanType:      model.PlanPremium,
			BillingPeriod: model.BillingMonthly,
			Price:         decimal.RequireFromString("24.99"),
			Currency:      "USD",
			Features:      []string{"Unlimited exams", "Unlimited mock interviews", "Premium content"},
			IsActive:      true,
			IsFeatured:    true,
		},
		{
			Name:          "Premium Yearly",
			PlanType:      model.PlanPremium,
			BillingPeriod: model.BillingYearly,
			Price:         decimal.RequireFromString("239.00"),
			Currency:      "USD",
			Features:      []string{"Unlimited exams", "Unlimited mock interviews", "Premium content"},
			IsActive:      true,
		},
	}
}
