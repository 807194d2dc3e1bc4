package firestore

import (
	"time"

	"github.com/formation-desk/api/internal/domain"
)

type sessionDocument struct {
	Status     string            `firestore:"status"`
	Step       int               `firestore:"step"`
	AddonIndex int               `firestore:"addonIndex"`
	Draft      draftDocument     `firestore:"draft"`
	Reference  referenceDocument `firestore:"reference"`
	Receipt    *receiptDocument  `firestore:"receipt,omitempty"`
	CreatedAt  time.Time         `firestore:"createdAt"`
	UpdatedAt  time.Time         `firestore:"updatedAt"`
	ExpiresAt  time.Time         `firestore:"expiresAt"`
}

type draftDocument struct {
	CompanyName  *string         `firestore:"companyName,omitempty"`
	Designator   *string         `firestore:"designator,omitempty"`
	EntityType   *namedDocument  `firestore:"entityType,omitempty"`
	Jurisdiction *namedDocument  `firestore:"jurisdiction,omitempty"`
	PricingTier  *pricedDocument `firestore:"pricingTier,omitempty"`
	StateFee     *pricedDocument `firestore:"stateFee,omitempty"`
	ExpediteFee  *pricedDocument `firestore:"expediteFee,omitempty"`
	Addons       []addonDocument `firestore:"addons"`
}

type namedDocument struct {
	ID   string `firestore:"id"`
	Name string `firestore:"name"`
}

type pricedDocument struct {
	ID     string `firestore:"id"`
	Name   string `firestore:"name,omitempty"`
	Amount int64  `firestore:"amount"`
}

type addonDocument struct {
	ProductID       string  `firestore:"productId"`
	SelectedPriceID *string `firestore:"selectedPriceId,omitempty"`
	ProductTier     *string `firestore:"productTier,omitempty"`
	ProductName     string  `firestore:"productName"`
	Price           int64   `firestore:"price"`
}

type referenceDocument struct {
	EntityTypes    []namedDocument      `firestore:"entityTypes,omitempty"`
	Jurisdictions  []namedDocument      `firestore:"jurisdictions,omitempty"`
	FeeSchedule    *feeScheduleDocument `firestore:"feeSchedule,omitempty"`
	FeeScheduleKey string               `firestore:"feeScheduleKey,omitempty"`
}

type feeScheduleDocument struct {
	StateFee      pricedDocument   `firestore:"stateFee"`
	ExpeditedFees []pricedDocument `firestore:"expeditedFees"`
}

type receiptDocument struct {
	OrderID     string    `firestore:"orderId"`
	Total       int64     `firestore:"total"`
	Message     string    `firestore:"message,omitempty"`
	SubmittedAt time.Time `firestore:"submittedAt"`
}

func newSessionDocument(session domain.CheckoutSession) sessionDocument {
	doc := sessionDocument{
		Status:     string(session.Status),
		Step:       session.Step,
		AddonIndex: session.AddonIndex,
		Draft:      newDraftDocument(session.Draft),
		Reference:  newReferenceDocument(session.Reference),
		CreatedAt:  storedTime(session.CreatedAt),
		UpdatedAt:  storedTime(session.UpdatedAt),
		ExpiresAt:  storedTime(session.ExpiresAt),
	}
	if r := session.Receipt; r != nil {
		doc.Receipt = &receiptDocument{
			OrderID:     r.OrderID,
			Total:       int64(r.Total),
			Message:     r.Message,
			SubmittedAt: storedTime(r.SubmittedAt),
		}
	}
	return doc
}

// storedTime matches Firestore's microsecond timestamp precision so updatedAt
// comparisons hold after a round trip.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func newDraftDocument(d domain.OrderDraft) draftDocument {
	doc := draftDocument{Addons: make([]addonDocument, 0, len(d.Addons))}
	if d.CompanyInfo != nil {
		name, designator := d.CompanyInfo.Name, d.CompanyInfo.Designator
		doc.CompanyName = &name
		doc.Designator = &designator
	}
	if d.EntityType != nil {
		doc.EntityType = &namedDocument{ID: d.EntityType.ID, Name: d.EntityType.Name}
	}
	if d.Jurisdiction != nil {
		doc.Jurisdiction = &namedDocument{ID: d.Jurisdiction.ID, Name: d.Jurisdiction.Name}
	}
	if d.PricingTier != nil {
		doc.PricingTier = &pricedDocument{ID: d.PricingTier.ID, Name: d.PricingTier.Name, Amount: int64(d.PricingTier.Price)}
	}
	if d.StateFee != nil {
		doc.StateFee = &pricedDocument{ID: d.StateFee.ID, Amount: int64(d.StateFee.Amount)}
	}
	if d.ExpediteFee != nil {
		doc.ExpediteFee = &pricedDocument{ID: d.ExpediteFee.ID, Name: d.ExpediteFee.Name, Amount: int64(d.ExpediteFee.Price)}
	}
	for _, addon := range d.Addons {
		doc.Addons = append(doc.Addons, addonDocument{
			ProductID:       addon.ProductID,
			SelectedPriceID: addon.SelectedPriceID,
			ProductTier:     addon.ProductTier,
			ProductName:     addon.ProductName,
			Price:           int64(addon.Price),
		})
	}
	return doc
}

func newReferenceDocument(ref domain.ReferenceData) referenceDocument {
	doc := referenceDocument{FeeScheduleKey: ref.FeeScheduleKey}
	for _, et := range ref.EntityTypes {
		doc.EntityTypes = append(doc.EntityTypes, namedDocument{ID: et.ID, Name: et.Name})
	}
	for _, j := range ref.Jurisdictions {
		doc.Jurisdictions = append(doc.Jurisdictions, namedDocument{ID: j.ID, Name: j.Name})
	}
	if fs := ref.FeeSchedule; fs != nil {
		schedule := &feeScheduleDocument{
			StateFee:      pricedDocument{ID: fs.StateFee.ID, Amount: int64(fs.StateFee.Amount)},
			ExpeditedFees: make([]pricedDocument, 0, len(fs.ExpeditedFees)),
		}
		for _, fee := range fs.ExpeditedFees {
			schedule.ExpeditedFees = append(schedule.ExpeditedFees, pricedDocument{ID: fee.ID, Name: fee.TierName, Amount: int64(fee.BaseAmount)})
		}
		doc.FeeSchedule = schedule
	}
	return doc
}

func (d sessionDocument) toDomain(id string) domain.CheckoutSession {
	session := domain.CheckoutSession{
		ID:         id,
		Status:     domain.CheckoutStatus(d.Status),
		Step:       d.Step,
		AddonIndex: d.AddonIndex,
		Draft:      d.Draft.toDomain(),
		Reference:  d.Reference.toDomain(),
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
		ExpiresAt:  d.ExpiresAt.UTC(),
	}
	if session.Status == "" {
		session.Status = domain.CheckoutStatusActive
	}
	if r := d.Receipt; r != nil {
		session.Receipt = &domain.SubmissionReceipt{
			OrderID:     r.OrderID,
			Total:       domain.Money(r.Total),
			Message:     r.Message,
			SubmittedAt: r.SubmittedAt.UTC(),
		}
	}
	return session
}

func (d draftDocument) toDomain() domain.OrderDraft {
	var draft domain.OrderDraft
	if d.CompanyName != nil {
		designator := ""
		if d.Designator != nil {
			designator = *d.Designator
		}
		draft.SetCompanyInfo(*d.CompanyName, designator)
	}
	if d.EntityType != nil {
		draft.SetEntityType(domain.EntityType{ID: d.EntityType.ID, Name: d.EntityType.Name})
	}
	if d.Jurisdiction != nil {
		draft.SetJurisdiction(domain.Jurisdiction{ID: d.Jurisdiction.ID, Name: d.Jurisdiction.Name})
	}
	if d.PricingTier != nil {
		draft.SetPricingTier(domain.PricingTier{ID: d.PricingTier.ID, Name: d.PricingTier.Name, Price: domain.Money(d.PricingTier.Amount)})
	}
	if d.StateFee != nil {
		draft.SetStateFee(domain.StateFee{ID: d.StateFee.ID, Amount: domain.Money(d.StateFee.Amount)})
	}
	if d.ExpediteFee != nil {
		draft.SetExpediteFee(domain.ExpediteFee{ID: d.ExpediteFee.ID, Name: d.ExpediteFee.Name, Price: domain.Money(d.ExpediteFee.Amount)})
	}
	for _, addon := range d.Addons {
		draft.Addons = append(draft.Addons, domain.AddonSelection{
			ProductID:       addon.ProductID,
			SelectedPriceID: addon.SelectedPriceID,
			ProductTier:     addon.ProductTier,
			ProductName:     addon.ProductName,
			Price:           domain.Money(addon.Price),
		})
	}
	return draft
}

func (d referenceDocument) toDomain() domain.ReferenceData {
	ref := domain.ReferenceData{FeeScheduleKey: d.FeeScheduleKey}
	for _, et := range d.EntityTypes {
		ref.EntityTypes = append(ref.EntityTypes, domain.EntityType{ID: et.ID, Name: et.Name})
	}
	for _, j := range d.Jurisdictions {
		ref.Jurisdictions = append(ref.Jurisdictions, domain.Jurisdiction{ID: j.ID, Name: j.Name})
	}
	if fs := d.FeeSchedule; fs != nil {
		schedule := &domain.FeeSchedule{
			StateFee: domain.StateFee{ID: fs.StateFee.ID, Amount: domain.Money(fs.StateFee.Amount)},
		}
		for _, fee := range fs.ExpeditedFees {
			schedule.ExpeditedFees = append(schedule.ExpeditedFees, domain.ExpeditedFee{ID: fee.ID, TierName: fee.Name, BaseAmount: domain.Money(fee.Amount)})
		}
		ref.FeeSchedule = schedule
	}
	return ref
}
