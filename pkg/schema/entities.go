package schema

// Entity collection names addressed through the record repository.
const (
	EntityAsset       = "asset"
	EntityIssue       = "issue"
	EntityDataProduct = "data_product"
	EntityQualityRule = "quality_rule"
)

// KnownEntityTypes lists the collections the engine operates over.
var KnownEntityTypes = []string{EntityAsset, EntityIssue, EntityDataProduct, EntityQualityRule}

// IsKnownEntityType reports whether the name is a recognized collection.
func IsKnownEntityType(name string) bool {
	for _, e := range KnownEntityTypes {
		if e == name {
			return true
		}
	}
	return false
}
