package gateway

import (
	"strings"

	"github.com/formation-desk/api/internal/domain"
)

type referencePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type feeSchedulePayload struct {
	StateFee struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	} `json:"stateFee"`
	ExpeditedFees []struct {
		ID         string `json:"id"`
		TierName   string `json:"tierName"`
		BaseAmount int64  `json:"baseAmount"`
	} `json:"expeditedFees"`
}

func (p feeSchedulePayload) toDomain() domain.FeeSchedule {
	schedule := domain.FeeSchedule{
		StateFee: domain.StateFee{
			ID:     strings.TrimSpace(p.StateFee.ID),
			Amount: domain.Money(p.StateFee.Amount),
		},
		ExpeditedFees: make([]domain.ExpeditedFee, 0, len(p.ExpeditedFees)),
	}
	for _, fee := range p.ExpeditedFees {
		schedule.ExpeditedFees = append(schedule.ExpeditedFees, domain.ExpeditedFee{
			ID:         strings.TrimSpace(fee.ID),
			TierName:   strings.TrimSpace(fee.TierName),
			BaseAmount: domain.Money(fee.BaseAmount),
		})
	}
	return schedule
}

type orderPayload struct {
	CompanyInfo    companyInfoPayload `json:"companyInfo"`
	EntityTypeID   string             `json:"entityTypeId"`
	JurisdictionID string             `json:"jurisdictionId"`
	PricingTierID  string             `json:"pricingTierId"`
	StateFeeID     string             `json:"stateFeeId"`
	ExpediteFeeID  string             `json:"expediteFeeId"`
	Addons         []addonPayload     `json:"addons"`
}

type companyInfoPayload struct {
	Name       string `json:"name"`
	Designator string `json:"designator"`
}

type addonPayload struct {
	ProductID       string  `json:"productId"`
	SelectedPriceID *string `json:"selectedPriceId"`
}

func newOrderPayload(order domain.OrderSubmission) orderPayload {
	payload := orderPayload{
		CompanyInfo: companyInfoPayload{
			Name:       order.CompanyInfo.Name,
			Designator: order.CompanyInfo.Designator,
		},
		EntityTypeID:   order.EntityTypeID,
		JurisdictionID: order.JurisdictionID,
		PricingTierID:  order.PricingTierID,
		StateFeeID:     order.StateFeeID,
		ExpediteFeeID:  order.ExpediteFeeID,
		Addons:         make([]addonPayload, 0, len(order.Addons)),
	}
	for _, addon := range order.Addons {
		payload.Addons = append(payload.Addons, addonPayload{
			ProductID:       addon.ProductID,
			SelectedPriceID: addon.SelectedPriceID,
		})
	}
	return payload
}

type ackPayload struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}
