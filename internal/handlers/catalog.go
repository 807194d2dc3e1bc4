package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/platform/httpx"
)

// CatalogHandlers exposes the static pricing catalog.
type CatalogHandlers struct {
	catalog *catalog.Catalog
}

func NewCatalogHandlers(cat *catalog.Catalog) *CatalogHandlers {
	return &CatalogHandlers{catalog: cat}
}

// Routes registers catalog endpoints under the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog/pricing-tiers", h.listPricingTiers)
}

type pricingTierEntry struct {
	tierPayload
	EligibleAddons []addonProductPayload `json:"eligibleAddons"`
}

type pricingTiersResponse struct {
	Currency string             `json:"currency"`
	Tiers    []pricingTierEntry `json:"tiers"`
}

func (h *CatalogHandlers) listPricingTiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog unavailable", http.StatusServiceUnavailable))
		return
	}

	currency := h.catalog.Currency()
	tiers := h.catalog.Tiers()
	resp := pricingTiersResponse{
		Currency: currency,
		Tiers:    make([]pricingTierEntry, 0, len(tiers)),
	}
	for _, tier := range tiers {
		products, err := h.catalog.EligibleAddons(tier.ID)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_error", err.Error(), http.StatusInternalServerError))
			return
		}
		entry := pricingTierEntry{
			tierPayload:    newTierPayload(tier, currency),
			EligibleAddons: make([]addonProductPayload, 0, len(products)),
		}
		for _, product := range products {
			entry.EligibleAddons = append(entry.EligibleAddons, newAddonProductPayload(product, currency))
		}
		resp.Tiers = append(resp.Tiers, entry)
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONResponse(w, http.StatusOK, resp)
}
