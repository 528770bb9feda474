package entities

import (
	"encoding"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductTableNames(t *testing.T) {
	assert.Equal(t, "catalog_product_entity", Product.EntityTableName())
	assert.Equal(t, "catalog_product_entity_decimal", Product.ValueTableName("decimal"))
	assert.Equal(t, "catalog_product_website", Product.WebsiteTableName())
	assert.Equal(t, "catalog_product_flat_3", Product.FlatTableName(3))
	assert.Equal(t, "catalog_product_flat", Product.FlagCode())
	assert.True(t, Product.IsValid())
}

func TestProductDefinition(t *testing.T) {
	def := Product.Definition()
	assert.Equal(t, "entity_id", def.IDColumn)
	assert.Equal(t, "status", def.StatusAttribute)
	assert.Contains(t, def.SystemAttributes, "status")
	assert.Contains(t, def.SystemAttributes, "visibility")
}

func TestFromString(t *testing.T) {
	et, err := FromString("catalog_product")
	require.NoError(t, err)
	assert.Equal(t, Product, et)

	_, err = FromString("catalog_category")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog_product")
}

func TestTextRoundTrip(t *testing.T) {
	var _ encoding.TextUnmarshaler = (*EntityType)(nil)

	var et EntityType
	require.NoError(t, et.UnmarshalText([]byte("catalog_product")))
	assert.Equal(t, Product, et)
	require.Error(t, et.UnmarshalText([]byte("nope")))

	b, err := Product.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "catalog_product", string(b))
}

func TestAllIsACopy(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	all[0] = "mutated"
	assert.Equal(t, Product, All()[0])
}
