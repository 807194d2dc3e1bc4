package domain

import "time"

// EntityType is a legal structure offered by the formation backend (LLC, C-Corp, ...).
type EntityType struct {
	ID   string
	Name string
}

// Jurisdiction is the filing state for a formation.
type Jurisdiction struct {
	ID   string
	Name string
}

// CompanyInfo holds the chosen company name and legal designator suffix.
type CompanyInfo struct {
	Name       string
	Designator string
}

// PricingTier is one of the fixed formation packages.
type PricingTier struct {
	ID    string
	Name  string
	Price Money
}

// StateFee is the government filing fee for a jurisdiction and entity type pair.
type StateFee struct {
	ID     string
	Amount Money
}

// ExpediteFee is the processing speed option chosen for the filing.
type ExpediteFee struct {
	ID    string
	Name  string
	Price Money
}

// AddonSelection records an optional product added to the order.
// A nil SelectedPriceID means the product's base price applies.
type AddonSelection struct {
	ProductID       string
	SelectedPriceID *string
	ProductTier     *string
	ProductName     string
	Price           Money
}

// ExpeditedFee is a processing speed option as published by the backend.
type ExpeditedFee struct {
	ID         string
	TierName   string
	BaseAmount Money
}

// FeeSchedule is the backend fee lookup result for a jurisdiction and entity type.
type FeeSchedule struct {
	StateFee      StateFee
	ExpeditedFees []ExpeditedFee
}

// OrderSubmission is the fully resolved order forwarded to the formation backend.
type OrderSubmission struct {
	CompanyInfo    CompanyInfo
	EntityTypeID   string
	JurisdictionID string
	PricingTierID  string
	StateFeeID     string
	ExpediteFeeID  string
	Addons         []OrderAddon
}

// OrderAddon is the add-on reference carried by an order submission.
type OrderAddon struct {
	ProductID       string
	SelectedPriceID *string
}

// SubmissionAck is the backend acknowledgement of an order submission.
type SubmissionAck struct {
	Success bool
	OrderID string
	Message string
}

// CheckoutStatus describes the lifecycle state of a checkout session.
type CheckoutStatus string

const (
	// CheckoutStatusActive marks a session still collecting order data.
	CheckoutStatusActive CheckoutStatus = "active"
	// CheckoutStatusSubmitted marks a session whose order was accepted by the backend.
	CheckoutStatusSubmitted CheckoutStatus = "submitted"
)

// CheckoutSession is the server-side state of one wizard run.
type CheckoutSession struct {
	ID         string
	Status     CheckoutStatus
	Step       int
	AddonIndex int
	Draft      OrderDraft
	Reference  ReferenceData
	Receipt    *SubmissionReceipt
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// ReferenceData caches backend lookups for the step currently shown.
type ReferenceData struct {
	EntityTypes    []EntityType
	Jurisdictions  []Jurisdiction
	FeeSchedule    *FeeSchedule
	FeeScheduleKey string
}

// SubmissionReceipt is kept on the session after a successful submission.
type SubmissionReceipt struct {
	OrderID     string
	Total       Money
	Message     string
	SubmittedAt time.Time
}

// Expired reports whether the session idle deadline has passed.
func (s CheckoutSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy so callers may mutate the result freely.
func (s CheckoutSession) Clone() CheckoutSession {
	out := s
	out.Draft = s.Draft.Clone()
	out.Reference = s.Reference.clone()
	if s.Receipt != nil {
		receipt := *s.Receipt
		out.Receipt = &receipt
	}
	return out
}

func (r ReferenceData) clone() ReferenceData {
	out := ReferenceData{FeeScheduleKey: r.FeeScheduleKey}
	if r.EntityTypes != nil {
		out.EntityTypes = append([]EntityType(nil), r.EntityTypes...)
	}
	if r.Jurisdictions != nil {
		out.Jurisdictions = append([]Jurisdiction(nil), r.Jurisdictions...)
	}
	if r.FeeSchedule != nil {
		schedule := *r.FeeSchedule
		schedule.ExpeditedFees = append([]ExpeditedFee(nil), r.FeeSchedule.ExpeditedFees...)
		out.FeeSchedule = &schedule
	}
	return out
}
