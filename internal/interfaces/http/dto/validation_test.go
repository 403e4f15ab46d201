package dto

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

func TestSystemCodePattern(t *testing.T) {
	valid := []string{"shopify", "amazon", "quick-books", "sap_b1", "erp2"}
	for _, code := range valid {
		assert.True(t, systemCodePattern.MatchString(code), code)
	}

	invalid := []string{"", "Shopify", "shop ify", "shopify-", "-shopify", "a--b", "api.example"}
	for _, code := range invalid {
		assert.False(t, systemCodePattern.MatchString(code), code)
	}
}

func TestStartSyncRequest_Binding(t *testing.T) {
	ok := StartSyncRequest{
		Systems:     []string{"shopify", "quick-books"},
		EntityTypes: []string{"products"},
	}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	badSystem := StartSyncRequest{
		Systems:     []string{"Shopify Inc"},
		EntityTypes: []string{"products"},
	}
	assert.Error(t, binding.Validator.ValidateStruct(&badSystem))

	badEntity := StartSyncRequest{
		Systems:     []string{"shopify"},
		EntityTypes: []string{"invoices"},
	}
	assert.Error(t, binding.Validator.ValidateStruct(&badEntity))
}

func TestEnqueueItemRequest_Binding(t *testing.T) {
	ok := EnqueueItemRequest{
		EntityType:   "products",
		SourceSystem: "erp",
		TargetSystem: "shopify",
		ExternalID:   "sku-1",
	}
	assert.NoError(t, binding.Validator.ValidateStruct(&ok))

	missingTarget := ok
	missingTarget.TargetSystem = ""
	assert.Error(t, binding.Validator.ValidateStruct(&missingTarget))

	badLocalID := ok
	badLocalID.LocalID = "not-a-uuid"
	assert.Error(t, binding.Validator.ValidateStruct(&badLocalID))
}
