package memory

import "github.com/hamzaMissewi/storefront-checkout/internal/domain/catalog"

// DemoCatalog is the development dataset loaded at startup when the service
// runs without a real catalog behind it. Prices are minor units.
func DemoCatalog() []*catalog.Product {
	return []*catalog.Product{
		{ID: "prod-001", Name: "Walnut Standing Desk", UnitPrice: 49900, Stock: 12},
		{ID: "prod-002", Name: "Ergonomic Task Chair", UnitPrice: 27500, Stock: 20},
		{ID: "prod-003", Name: "Brass Desk Lamp", UnitPrice: 8900, Stock: 35},
		{ID: "prod-004", Name: "Felt Desk Pad", UnitPrice: 3900, Stock: 50},
		{ID: "prod-005", Name: "Cable Management Tray", UnitPrice: 2400, Stock: 40},
		{ID: "prod-006", Name: "Monitor Arm", UnitPrice: 12900, Stock: 18},
	}
}
