package document

import (
	"fmt"
	"strings"
)

// Separator joins the segments of composite identifiers:
//
//	entity:    <package>_<EntityType>_<physicalId>
//	predicate: <package>_<physicalId>
//
// Names that take part in identifiers must not contain it.
const Separator = "_"

// ComposeID joins segments with Separator.
func ComposeID(segments ...string) string {
	return strings.Join(segments, Separator)
}

// TypeFromID returns the entity type encoded in an entity id: the
// second-to-last segment. Ids with fewer than three segments carry no type.
func TypeFromID(id string) (string, bool) {
	parts := strings.Split(id, Separator)
	if len(parts) < 3 {
		return "", false
	}
	typ := parts[len(parts)-2]
	if typ == "" {
		return "", false
	}
	return typ, true
}

// ValidateName rejects names that would corrupt composite identifiers.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", kind)
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("%s name %q must not contain %q", kind, name, Separator)
	}
	return nil
}
