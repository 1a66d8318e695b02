package apicall

import (
	"strings"

	"github.com/eg9y/chat-api-plugins/tools/openapi"
)

// Declared OpenAPI parameter locations.
const (
	LocationPath   = "path"
	LocationQuery  = "query"
	LocationHeader = "header"
	LocationCookie = "cookie"
)

// Locations maps a parameter name to its declared location.
type Locations map[string]string

// LocationsFor returns the declared parameter locations of the operation
// matching method and path, or nil when the document has no such operation.
// Unresolvable parameter references are skipped.
func LocationsFor(doc *openapi.Document, method, path string, maxDepth int) Locations {
	ref, ok := doc.FindOperation(method, path)
	if !ok {
		return nil
	}
	params := openapi.NewResolver(doc, maxDepth).Parameters(ref, nil)
	if len(params) == 0 {
		return nil
	}
	locs := make(Locations, len(params))
	for _, p := range params {
		locs[p.Name] = strings.ToLower(p.In)
	}
	return locs
}
