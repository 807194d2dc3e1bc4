package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/formation-desk/api/internal/domain"
)

func TestSessionDocumentPreservesDraftAndReference(t *testing.T) {
	monthly := "mailbox_monthly"
	tier := "monthly"
	now := time.Date(2025, time.July, 3, 8, 15, 30, 123456789, time.UTC)

	session := domain.CheckoutSession{
		ID:         "cs_01",
		Status:     domain.CheckoutStatusActive,
		Step:       5,
		AddonIndex: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(2 * time.Hour),
		Reference: domain.ReferenceData{
			FeeScheduleKey: "wy/llc",
			FeeSchedule: &domain.FeeSchedule{
				StateFee:      domain.StateFee{ID: "sf_wy_llc", Amount: domain.Dollars(100)},
				ExpeditedFees: []domain.ExpeditedFee{{ID: "exp_std", TierName: "standard", BaseAmount: 0}},
			},
		},
	}
	session.Draft.SetCompanyInfo("Acme", "LLC")
	session.Draft.SetEntityType(domain.EntityType{ID: "llc", Name: "LLC"})
	session.Draft.SetJurisdiction(domain.Jurisdiction{ID: "wy", Name: "Wyoming"})
	session.Draft.SetPricingTier(domain.PricingTier{ID: "silver", Name: "Silver", Price: domain.Dollars(147)})
	session.Draft.SetStateFee(domain.StateFee{ID: "sf_wy_llc", Amount: domain.Dollars(100)})
	session.Draft.AddOrReplaceAddon(domain.AddonSelection{ProductID: "ein", ProductName: "EIN", Price: domain.Dollars(70)})
	session.Draft.AddOrReplaceAddon(domain.AddonSelection{ProductID: "virtual_mailbox", SelectedPriceID: &monthly, ProductTier: &tier, ProductName: "Virtual Mailbox", Price: domain.Dollars(29)})

	got := newSessionDocument(session).toDomain("cs_01")

	require.Equal(t, now.Truncate(time.Microsecond), got.UpdatedAt)
	require.Nil(t, got.Draft.ExpediteFee)
	require.Equal(t, session.Draft.CompanyInfo, got.Draft.CompanyInfo)
	require.Equal(t, session.Draft.Addons, got.Draft.Addons)
	require.Equal(t, session.Draft.Total(), got.Draft.Total())
	require.Equal(t, session.Reference, got.Reference)
	require.Equal(t, 1, got.AddonIndex)
}

func TestSessionDocumentDefaultsStatus(t *testing.T) {
	got := sessionDocument{}.toDomain("cs_02")
	require.Equal(t, domain.CheckoutStatusActive, got.Status)
	require.Empty(t, got.Draft.Addons)
	require.Nil(t, got.Receipt)
}
