// Package catalog holds the static formation packages, optional products,
// legal designators and expedite display metadata.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/formation-desk/api/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrUnknownTier is returned when a tier id is not part of the catalog.
	ErrUnknownTier = errors.New("catalog: unknown pricing tier")
	// ErrUnknownProduct is returned when an add-on product id is not part of the catalog.
	ErrUnknownProduct = errors.New("catalog: unknown add-on product")
	// ErrUnknownPriceOption is returned when a price option does not belong to the product.
	ErrUnknownPriceOption = errors.New("catalog: unknown price option")
	// ErrPriceOptionRequired is returned when a product without a base price is selected without an option.
	ErrPriceOptionRequired = errors.New("catalog: price option required")
)

// Tier is a formation package together with the features it includes.
type Tier struct {
	ID          string
	Name        string
	Description string
	Price       domain.Money
	Features    []string
}

// Includes reports whether the tier already contains the feature.
func (t Tier) Includes(feature string) bool {
	for _, f := range t.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// PricingTier converts the tier to the value stored on an order draft.
func (t Tier) PricingTier() domain.PricingTier {
	return domain.PricingTier{ID: t.ID, Name: t.Name, Price: t.Price}
}

// PriceOption is one purchasable variant of an add-on product.
type PriceOption struct {
	ID     string
	Tier   string
	Label  string
	Amount domain.Money
}

// AddonProduct is an optional service offered after the package is chosen.
type AddonProduct struct {
	ID          string
	Name        string
	Description string
	Feature     string
	Order       int
	BasePrice   *domain.Money
	Options     []PriceOption

	declared int
}

// Option looks up a price option by id.
func (p AddonProduct) Option(id string) (PriceOption, bool) {
	for _, option := range p.Options {
		if option.ID == id {
			return option, true
		}
	}
	return PriceOption{}, false
}

// Selection resolves the price for priceID (empty means base price) into an add-on selection.
func (p AddonProduct) Selection(priceID string) (domain.AddonSelection, error) {
	priceID = strings.TrimSpace(priceID)
	selection := domain.AddonSelection{
		ProductID:   p.ID,
		ProductName: p.Name,
	}
	if priceID == "" {
		if p.BasePrice == nil {
			return domain.AddonSelection{}, fmt.Errorf("%w: %s", ErrPriceOptionRequired, p.ID)
		}
		selection.Price = *p.BasePrice
		return selection, nil
	}
	option, ok := p.Option(priceID)
	if !ok {
		return domain.AddonSelection{}, fmt.Errorf("%w: %s/%s", ErrUnknownPriceOption, p.ID, priceID)
	}
	id := option.ID
	selection.SelectedPriceID = &id
	if option.Tier != "" {
		tier := option.Tier
		selection.ProductTier = &tier
	}
	selection.Price = option.Amount
	return selection, nil
}

// ExpediteTier is the display metadata for a backend expedite tier name.
type ExpediteTier struct {
	Name           string
	Description    string
	ProcessingTime string
}

// ExpediteOption is a fetched expedite fee joined with its display metadata.
type ExpediteOption struct {
	ID             string
	TierName       string
	Name           string
	Description    string
	ProcessingTime string
	Price          domain.Money
}

// ExpediteFee converts the option to the value stored on an order draft.
func (o ExpediteOption) ExpediteFee() domain.ExpediteFee {
	return domain.ExpediteFee{ID: o.ID, Name: o.Name, Price: o.Price}
}

// Catalog is the immutable static product catalog.
type Catalog struct {
	currency    string
	tiers       []Tier
	products    []AddonProduct
	designators map[string][]string
	expedite    map[string]ExpediteTier
}

type catalogFile struct {
	Currency    string                   `yaml:"currency"`
	Tiers       []tierEntry              `yaml:"tiers"`
	Addons      []addonEntry             `yaml:"addons"`
	Designators []designatorEntry        `yaml:"designators"`
	Expedite    map[string]expediteEntry `yaml:"expedite"`
}

type tierEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Price       int64    `yaml:"price"`
	Features    []string `yaml:"features"`
}

type addonEntry struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Feature     string        `yaml:"feature"`
	Order       int           `yaml:"order"`
	Price       *int64        `yaml:"price"`
	Options     []optionEntry `yaml:"options"`
}

type optionEntry struct {
	ID    string `yaml:"id"`
	Tier  string `yaml:"tier"`
	Label string `yaml:"label"`
	Price int64  `yaml:"price"`
}

// designatorEntry lists the suffixes for one entity type. EntityTypes holds
// the backend id first, then any display names it is known by.
type designatorEntry struct {
	EntityTypes []string `yaml:"entity_types"`
	Values      []string `yaml:"values"`
}

type expediteEntry struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	ProcessingTime string `yaml:"processing_time"`
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(defaultCatalog)
}

// Load parses and validates a YAML catalog. Dollar prices are normalised to cents.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	c := &Catalog{
		currency:    strings.ToUpper(strings.TrimSpace(file.Currency)),
		designators: make(map[string][]string, len(file.Designators)),
		expedite:    make(map[string]ExpediteTier, len(file.Expedite)),
	}
	if c.currency == "" {
		c.currency = domain.DefaultCurrency
	}

	seenTiers := make(map[string]struct{}, len(file.Tiers))
	for _, entry := range file.Tiers {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, errors.New("catalog: tier id is required")
		}
		if _, dup := seenTiers[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate tier %q", id)
		}
		if entry.Price < 0 {
			return nil, fmt.Errorf("catalog: tier %q has a negative price", id)
		}
		seenTiers[id] = struct{}{}
		c.tiers = append(c.tiers, Tier{
			ID:          id,
			Name:        strings.TrimSpace(entry.Name),
			Description: strings.TrimSpace(entry.Description),
			Price:       NormalizeDollars(entry.Price),
			Features:    append([]string(nil), entry.Features...),
		})
	}
	if len(c.tiers) == 0 {
		return nil, errors.New("catalog: at least one tier is required")
	}

	seenProducts := make(map[string]struct{}, len(file.Addons))
	for i, entry := range file.Addons {
		product, err := buildProduct(entry, i)
		if err != nil {
			return nil, err
		}
		if _, dup := seenProducts[product.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate add-on %q", product.ID)
		}
		seenProducts[product.ID] = struct{}{}
		c.products = append(c.products, product)
	}

	for i, entry := range file.Designators {
		normalized := make([]string, 0, len(entry.Values))
		for _, value := range entry.Values {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				normalized = append(normalized, trimmed)
			}
		}
		if len(normalized) == 0 {
			return nil, fmt.Errorf("catalog: designator entry %d has no values", i)
		}
		if len(entry.EntityTypes) == 0 {
			return nil, fmt.Errorf("catalog: designator entry %d names no entity type", i)
		}
		for _, key := range entry.EntityTypes {
			key = designatorKey(key)
			if _, dup := c.designators[key]; dup {
				return nil, fmt.Errorf("catalog: entity type %q has designators twice", key)
			}
			c.designators[key] = normalized
		}
	}

	for key, entry := range file.Expedite {
		c.expedite[strings.ToLower(strings.TrimSpace(key))] = ExpediteTier{
			Name:           strings.TrimSpace(entry.Name),
			Description:    strings.TrimSpace(entry.Description),
			ProcessingTime: strings.TrimSpace(entry.ProcessingTime),
		}
	}

	return c, nil
}

func buildProduct(entry addonEntry, declared int) (AddonProduct, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return AddonProduct{}, errors.New("catalog: add-on id is required")
	}
	product := AddonProduct{
		ID:          id,
		Name:        strings.TrimSpace(entry.Name),
		Description: strings.TrimSpace(entry.Description),
		Feature:     strings.TrimSpace(entry.Feature),
		Order:       entry.Order,
		declared:    declared,
	}
	if product.Feature == "" {
		product.Feature = id
	}
	if entry.Price != nil {
		if *entry.Price < 0 {
			return AddonProduct{}, fmt.Errorf("catalog: add-on %q has a negative price", id)
		}
		price := NormalizeDollars(*entry.Price)
		product.BasePrice = &price
	}
	seen := make(map[string]struct{}, len(entry.Options))
	for _, option := range entry.Options {
		optionID := strings.TrimSpace(option.ID)
		if optionID == "" {
			return AddonProduct{}, fmt.Errorf("catalog: add-on %q has an option without id", id)
		}
		if _, dup := seen[optionID]; dup {
			return AddonProduct{}, fmt.Errorf("catalog: add-on %q has duplicate option %q", id, optionID)
		}
		if option.Price < 0 {
			return AddonProduct{}, fmt.Errorf("catalog: option %q has a negative price", optionID)
		}
		seen[optionID] = struct{}{}
		product.Options = append(product.Options, PriceOption{
			ID:     optionID,
			Tier:   strings.TrimSpace(option.Tier),
			Label:  strings.TrimSpace(option.Label),
			Amount: NormalizeDollars(option.Price),
		})
	}
	if product.BasePrice == nil && len(product.Options) == 0 {
		return AddonProduct{}, fmt.Errorf("catalog: add-on %q has no price", id)
	}
	return product, nil
}

// NormalizeDollars converts a whole-dollar catalog price into cents.
func NormalizeDollars(dollars int64) domain.Money {
	return domain.Dollars(dollars)
}

// Currency returns the ISO code every catalog amount is expressed in.
func (c *Catalog) Currency() string {
	return c.currency
}

// Tiers returns the pricing tiers in declaration order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

func (c *Catalog) Tier(id string) (Tier, error) {
	id = strings.TrimSpace(id)
	for _, tier := range c.tiers {
		if tier.ID == id {
			return tier, nil
		}
	}
	return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
}

func (c *Catalog) Product(id string) (AddonProduct, error) {
	id = strings.TrimSpace(id)
	for _, product := range c.products {
		if product.ID == id {
			return product, nil
		}
	}
	return AddonProduct{}, fmt.Errorf("%w: %q", ErrUnknownProduct, id)
}

// EligibleAddons lists the products not already included in the tier, ordered
// by their order attribute with ties kept in declaration order.
func (c *Catalog) EligibleAddons(tierID string) ([]AddonProduct, error) {
	tier, err := c.Tier(tierID)
	if err != nil {
		return nil, err
	}
	eligible := make([]AddonProduct, 0, len(c.products))
	for _, product := range c.products {
		if tier.Includes(product.Feature) {
			continue
		}
		eligible = append(eligible, product)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Order != eligible[j].Order {
			return eligible[i].Order < eligible[j].Order
		}
		return eligible[i].declared < eligible[j].declared
	})
	return eligible, nil
}

// Designators returns the legal suffixes for the entity type, matched by id
// and then by display name. Entity types the catalog does not know get none.
func (c *Catalog) Designators(entityType domain.EntityType) []string {
	for _, key := range []string{entityType.ID, entityType.Name} {
		if key = designatorKey(key); key == "" {
			continue
		}
		if values, ok := c.designators[key]; ok {
			return append([]string(nil), values...)
		}
	}
	return nil
}

// ValidDesignator reports whether designator may be used with the entity type.
func (c *Catalog) ValidDesignator(entityType domain.EntityType, designator string) bool {
	designator = strings.TrimSpace(designator)
	for _, candidate := range c.Designators(entityType) {
		if strings.EqualFold(candidate, designator) {
			return true
		}
	}
	return false
}

// ExpediteOptions left-joins fetched fees with the static metadata by tier name.
// Fees without metadata keep their tier name as display name.
func (c *Catalog) ExpediteOptions(fees []domain.ExpeditedFee) []ExpediteOption {
	options := make([]ExpediteOption, 0, len(fees))
	for _, fee := range fees {
		option := ExpediteOption{
			ID:       fee.ID,
			TierName: fee.TierName,
			Name:     fee.TierName,
			Price:    fee.BaseAmount,
		}
		if meta, ok := c.expedite[strings.ToLower(strings.TrimSpace(fee.TierName))]; ok {
			if meta.Name != "" {
				option.Name = meta.Name
			}
			option.Description = meta.Description
			option.ProcessingTime = meta.ProcessingTime
		}
		options = append(options, option)
	}
	return options
}

func designatorKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
