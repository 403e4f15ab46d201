package sync

// SystemCode identifies an external system of record a job targets.
// The engine does not interpret the code beyond routing it to the
// registered adapter, so the set is open.
type SystemCode string

// String returns the string representation of SystemCode
func (s SystemCode) String() string {
	return string(s)
}

// EntityType represents the kind of entity a sync item carries.
type EntityType string

const (
	EntityTypeCustomers EntityType = "customers"
	EntityTypeProducts  EntityType = "products"
	EntityTypeOrders    EntityType = "orders"
	EntityTypeInventory EntityType = "inventory"
	EntityTypePayments  EntityType = "payments"
)

// IsValid returns true if the entity type is one of the supported kinds
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeCustomers, EntityTypeProducts, EntityTypeOrders, EntityTypeInventory, EntityTypePayments:
		return true
	}
	return false
}

// String returns the string representation of EntityType
func (e EntityType) String() string {
	return string(e)
}
