package billing

import "sort"

// =============================================================================
// CATALOG INDEX - id -> display name for payment type/method/status
// =============================================================================

// CatalogKind names one of the three reference lists.
type CatalogKind string

const (
	CatalogType   CatalogKind = "type"
	CatalogMethod CatalogKind = "method"
	CatalogStatus CatalogKind = "status"
)

// CatalogKinds lists every kind, in fetch order.
var CatalogKinds = []CatalogKind{CatalogType, CatalogMethod, CatalogStatus}

// Valid reports whether k is a known catalog kind.
func (k CatalogKind) Valid() bool {
	return k == CatalogType || k == CatalogMethod || k == CatalogStatus
}

// CatalogEntry is one {id, name} reference item.
type CatalogEntry struct {
	ID   CatalogID
	Name string
}

// CatalogIndex resolves catalog ids to names. Built once per cycle; read-only after.
type CatalogIndex struct {
	names map[CatalogKind]map[CatalogID]string
}

// NewCatalogIndex indexes the three reference lists. Later duplicates of an
// id overwrite earlier ones; entries with a zero id are ignored.
func NewCatalogIndex(types, methods, statuses []CatalogEntry) *CatalogIndex {
	idx := &CatalogIndex{names: make(map[CatalogKind]map[CatalogID]string, 3)}
	idx.add(CatalogType, types)
	idx.add(CatalogMethod, methods)
	idx.add(CatalogStatus, statuses)
	return idx
}

func (c *CatalogIndex) add(kind CatalogKind, entries []CatalogEntry) {
	m := make(map[CatalogID]string, len(entries))
	for _, e := range entries {
		if e.ID == 0 {
			continue
		}
		m[e.ID] = e.Name
	}
	c.names[kind] = m
}

// Name returns the display name for id.
func (c *CatalogIndex) Name(kind CatalogKind, id CatalogID) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.names[kind][id]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Has reports whether id exists in the catalog.
func (c *CatalogIndex) Has(kind CatalogKind, id CatalogID) bool {
	if c == nil {
		return false
	}
	_, ok := c.names[kind][id]
	return ok
}

// NameOr returns the display name for id, falling back to the id itself.
func (c *CatalogIndex) NameOr(kind CatalogKind, id CatalogID) string {
	if name, ok := c.Name(kind, id); ok {
		return name
	}
	if id == 0 {
		return ""
	}
	return id.String()
}

// Entries returns the catalog sorted by id.
func (c *CatalogIndex) Entries(kind CatalogKind) []CatalogEntry {
	if c == nil {
		return nil
	}
	m := c.names[kind]
	out := make([]CatalogEntry, 0, len(m))
	for id, name := range m {
		out = append(out, CatalogEntry{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
