package nodes

// Graph node keys.
const (
	NodeValidateQuery = "validate_query"
	NodeAPICall       = "api_call"
	NodeSearch        = "search"
	NodeGenerate      = "generate"
)
