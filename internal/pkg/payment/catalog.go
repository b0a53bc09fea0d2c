package payment

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/text2rednote/rednotepay/app/models"
)

// AmountEpsilon is the largest difference between two amounts that still
// counts as equal.
var AmountEpsilon = decimal.RequireFromString("0.01")

// AmountsMatch compares two amounts within AmountEpsilon.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountEpsilon)
}

// Product is one purchasable credit package.
type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Credits           int64           `json:"credits"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency"`
	ProviderProductID string          `json:"-"`
}

func (p Product) Unlimited() bool {
	return p.Credits == models.UnlimitedCredits
}

// Catalog is the server-held list of products for one provider. It is the
// only source of amounts and credit grants.
type Catalog struct {
	provider string
	products map[string]Product
}

func NewCatalog(provider string, products ...Product) *Catalog {
	c := &Catalog{provider: provider, products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Provider() string { return c.provider }

// Lookup returns the product with the given id.
func (c *Catalog) Lookup(id string) (Product, error) {
	p, ok := c.products[strings.TrimSpace(id)]
	if !ok {
		return Product{}, ErrUnknownProduct
	}
	return p, nil
}

// Products returns all products ordered by price.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}

// Selection is what a client claims to be buying. Every non-zero field must
// agree with the catalog entry.
type Selection struct {
	ProductID string
	Name      string
	Price     *decimal.Decimal
	Credits   *int64
}

// Resolve finds the catalog product matching sel. Products are found by id,
// falling back to a case-insensitive name match.
func (c *Catalog) Resolve(sel Selection) (Product, error) {
	var (
		product Product
		err     error
	)
	switch {
	case strings.TrimSpace(sel.ProductID) != "":
		product, err = c.Lookup(sel.ProductID)
		if err != nil {
			return Product{}, err
		}
	case strings.TrimSpace(sel.Name) != "":
		found := false
		for _, p := range c.products {
			if strings.EqualFold(p.Name, strings.TrimSpace(sel.Name)) {
				product, found = p, true
				break
			}
		}
		if !found {
			return Product{}, ErrUnknownProduct
		}
	default:
		return Product{}, ErrUnknownProduct
	}

	if sel.Name != "" && !strings.EqualFold(product.Name, strings.TrimSpace(sel.Name)) {
		return Product{}, ErrSelectionMismatch
	}
	if sel.Price != nil && !AmountsMatch(*sel.Price, product.Price) {
		return Product{}, ErrSelectionMismatch
	}
	if sel.Credits != nil && *sel.Credits != product.Credits {
		return Product{}, ErrSelectionMismatch
	}
	return product, nil
}

const (
	ProductCredits100       = "credits_100"
	ProductCredits500       = "credits_500"
	ProductCredits1200      = "credits_1200"
	ProductCreditsUnlimited = "credits_unlimited"
)

// DefaultEpayCatalog lists the packages sold through epay, priced in CNY.
func DefaultEpayCatalog() *Catalog {
	return NewCatalog(models.PaymentProviderEpay,
		Product{ID: ProductCredits100, Name: "100 Credits", Credits: 100, Price: decimal.RequireFromString("35.00"), Currency: "CNY"},
		Product{ID: ProductCredits500, Name: "500 Credits", Credits: 500, Price: decimal.RequireFromString("140.00"), Currency: "CNY"},
		Product{ID: ProductCredits1200, Name: "1200 Credits", Credits: 1200, Price: decimal.RequireFromString("280.00"), Currency: "CNY"},
		Product{ID: ProductCreditsUnlimited, Name: "Unlimited", Credits: models.UnlimitedCredits, Price: decimal.RequireFromString("699.00"), Currency: "CNY"},
	)
}

// DefaultCreemCatalog lists the packages sold through creem, priced in USD.
// providerIDs maps catalog ids to creem product ids; ids without a mapping
// use the catalog id itself.
func DefaultCreemCatalog(providerIDs map[string]string) *Catalog {
	products := []Product{
		{ID: ProductCredits100, Name: "100 Credits", Credits: 100, Price: decimal.RequireFromString("5.00"), Currency: "USD"},
		{ID: ProductCredits500, Name: "500 Credits", Credits: 500, Price: decimal.RequireFromString("20.00"), Currency: "USD"},
		{ID: ProductCredits1200, Name: "1200 Credits", Credits: 1200, Price: decimal.RequireFromString("40.00"), Currency: "USD"},
		{ID: ProductCreditsUnlimited, Name: "Unlimited", Credits: models.UnlimitedCredits, Price: decimal.RequireFromString("99.00"), Currency: "USD"},
	}
	for i := range products {
		products[i].ProviderProductID = products[i].ID
		if id := strings.TrimSpace(providerIDs[products[i].ID]); id != "" {
			products[i].ProviderProductID = id
		}
	}
	return NewCatalog(models.PaymentProviderCreem, products...)
}
