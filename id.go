package circulate

import "github.com/xraph/circulate/id"

// ID is the primary identifier type for all Circulate entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
