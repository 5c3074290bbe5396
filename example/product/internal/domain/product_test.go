package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProduct(t *testing.T) {
	p, err := ParseProduct(map[string]string{
		"product_id":       "4",
		"product_name":     " Yonex Badminton Racket ",
		"product_category": "Sports Accessories",
		"product_price":    "2499",
	})
	require.NoError(t, err)
	assert.Equal(t, Product{ProductID: 4, ProductName: "Yonex Badminton Racket", ProductCategory: CategorySportsAccessories, ProductPrice: 2499}, p)
	assert.Equal(t, []string{"4", "Yonex Badminton Racket", "Sports Accessories", "2499"}, p.Record())

	_, err = ParseProduct(map[string]string{"product_id": "x", "product_price": "1"})
	assert.ErrorContains(t, err, "product_id")
	_, err = ParseProduct(map[string]string{"product_id": "1", "product_price": "cheap"})
	assert.ErrorContains(t, err, "product_price")
}

func TestToOSProduct(t *testing.T) {
	phone := ToOSProduct(Product{ProductID: 1, ProductName: "Apple iPhone 15", ProductCategory: CategoryMobilePhones, ProductPrice: 79900})
	assert.Equal(t, 18, phone.TaxPercent)
	assert.Equal(t, "APP-000001", phone.Sku)
	assert.Equal(t, 0, phone.ShippingRate)

	ball := ToOSProduct(Product{ProductID: 9, ProductName: "9 ball", ProductCategory: CategorySportsAccessories, ProductPrice: 799})
	assert.Equal(t, 12, ball.TaxPercent)
	assert.Equal(t, "9BA-000009", ball.Sku)
	assert.Equal(t, 50, ball.ShippingRate)
	assert.Len(t, ball.Values(), len(OSColumns))

	assert.Equal(t, "PRD-000002", ToOSProduct(Product{ProductID: 2, ProductName: "--"}).Sku)
}
