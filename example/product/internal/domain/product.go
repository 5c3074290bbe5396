// Package domain holds the product records moved by the product job.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Categories accepted by validation.
const (
	CategoryMobilePhones      = "Mobile Phones"
	CategoryTablets           = "Tablets"
	CategoryTelevisions       = "Televisions"
	CategorySportsAccessories = "Sports Accessories"
)

// MaxPrice is the highest valid product price.
const MaxPrice = 100000

const (
	freeShippingThreshold   = 1000
	standardShippingRate    = 50
	sportsAccessoriesTaxPct = 12
	defaultTaxPercent       = 18
	skuPrefixLength         = 3
)

// Fields are the column names of the product details file, in file order.
var Fields = []string{"product_id", "product_name", "product_category", "product_price"}

// Columns are the product_details_output columns, in Values order.
var Columns = Fields

// Product is one line of the product details file and one row of product_details_output.
type Product struct {
	ProductID       int64  `gorm:"column:product_id;primaryKey;autoIncrement:false" parquet:"name=product_id, type=INT64" validate:"gt=0"`
	ProductName     string `gorm:"column:product_name" parquet:"name=product_name, type=BYTE_ARRAY, convertedtype=UTF8" validate:"required"`
	ProductCategory string `gorm:"column:product_category" parquet:"name=product_category, type=BYTE_ARRAY, convertedtype=UTF8" validate:"oneof='Mobile Phones' Tablets Televisions 'Sports Accessories'"`
	ProductPrice    int64  `gorm:"column:product_price" parquet:"name=product_price, type=INT64" validate:"gte=0,lte=100000"`
}

// TableName implements gorm's tabler.
func (Product) TableName() string { return "product_details_output" }

// Values returns the product in Columns order.
func (p Product) Values() []any {
	return []any{p.ProductID, p.ProductName, p.ProductCategory, p.ProductPrice}
}

// Record returns the product in Fields order, formatted for a delimited file.
func (p Product) Record() []string {
	return []string{
		strconv.FormatInt(p.ProductID, 10),
		p.ProductName,
		p.ProductCategory,
		strconv.FormatInt(p.ProductPrice, 10),
	}
}

// ParseProduct maps the named fields of one file record.
func ParseProduct(fields map[string]string) (Product, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(fields["product_id"]), 10, 64)
	if err != nil {
		return Product{}, fmt.Errorf("product_id: %w", err)
	}
	price, err := strconv.ParseInt(strings.TrimSpace(fields["product_price"]), 10, 64)
	if err != nil {
		return Product{}, fmt.Errorf("product_price: %w", err)
	}
	return Product{
		ProductID:       id,
		ProductName:     strings.TrimSpace(fields["product_name"]),
		ProductCategory: strings.TrimSpace(fields["product_category"]),
		ProductPrice:    price,
	}, nil
}

// OSProduct is a product enriched for the online store.
type OSProduct struct {
	Product      `gorm:"embedded"`
	TaxPercent   int    `gorm:"column:tax_percent"`
	Sku          string `gorm:"column:sku"`
	ShippingRate int    `gorm:"column:shipping_rate"`
}

// TableName implements gorm's tabler.
func (OSProduct) TableName() string { return "os_product_details" }

// OSColumns are the os_product_details columns, in OSProduct.Values order.
var OSColumns = []string{"product_id", "product_name", "product_category", "product_price", "tax_percent", "sku", "shipping_rate"}

// Values returns the record in OSColumns order.
func (o OSProduct) Values() []any {
	return append(o.Product.Values(), o.TaxPercent, o.Sku, o.ShippingRate)
}

// ToOSProduct derives the store record of p. Sports accessories carry a reduced
// tax; products under the free shipping threshold pay the standard rate.
func ToOSProduct(p Product) OSProduct {
	o := OSProduct{Product: p, TaxPercent: defaultTaxPercent, Sku: sku(p)}
	if p.ProductCategory == CategorySportsAccessories {
		o.TaxPercent = sportsAccessoriesTaxPct
	}
	if p.ProductPrice < freeShippingThreshold {
		o.ShippingRate = standardShippingRate
	}
	return o
}

// sku is the first letters of the name, upper-cased, and the zero-padded id: "APP-000001".
func sku(p Product) string {
	var prefix []rune
	for _, r := range p.ProductName {
		if len(prefix) == skuPrefixLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			prefix = append(prefix, unicode.ToUpper(r))
		}
	}
	if len(prefix) == 0 {
		prefix = []rune("PRD")
	}
	return fmt.Sprintf("%s-%06d", string(prefix), p.ProductID)
}
