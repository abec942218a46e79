// Package grants maps caller credentials to the warehouse tables they may read.
package grants

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/wmsinsight/wmsinsight/internal/schema"
)

// FingerprintLength is the number of hex characters kept from the SHA-256 of
// a credential. Config carries fingerprints, never raw keys.
const FingerprintLength = 16

// TableSet is the set of tables a credential may reference. The zero value
// allows nothing; All allows every catalog table.
type TableSet struct {
	all    bool
	tables map[string]struct{}
}

// All allows every table.
var All = TableSet{all: true}

func NewTableSet(tables ...string) TableSet {
	set := TableSet{tables: map[string]struct{}{}}
	for _, table := range tables {
		table = strings.ToLower(strings.TrimSpace(table))
		if table != "" {
			set.tables[table] = struct{}{}
		}
	}
	return set
}

func (s TableSet) Allows(table string) bool {
	if s.all {
		return true
	}
	_, ok := s.tables[strings.ToLower(table)]
	return ok
}

func (s TableSet) IsAll() bool {
	return s.all
}

// Names returns the granted tables sorted; nil for All.
func (s TableSet) Names() []string {
	if s.all {
		return nil
	}
	names := make([]string, 0, len(s.tables))
	for table := range s.tables {
		names = append(names, table)
	}
	sort.Strings(names)
	return names
}

func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(credential)))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// Resolver answers which tables a credential may read.
type Resolver interface {
	Resolve(credential string) TableSet
}

// StaticResolver is built from a "fingerprint:table|table,..." spec. Unknown
// or empty credentials get the fallback set.
type StaticResolver struct {
	entries  map[string]TableSet
	fallback TableSet
}

func NewStaticResolver(spec string) (*StaticResolver, error) {
	resolver := &StaticResolver{entries: map[string]TableSet{}, fallback: All}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return resolver, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid grant entry %q: expected fingerprint:table|table", entry)
		}
		fingerprint := strings.ToLower(strings.TrimSpace(parts[0]))
		if len(fingerprint) != FingerprintLength {
			return nil, fmt.Errorf("invalid grant entry %q: fingerprint must be %d hex characters", entry, FingerprintLength)
		}
		if _, err := hex.DecodeString(fingerprint); err != nil {
			return nil, fmt.Errorf("invalid grant entry %q: fingerprint is not hex", entry)
		}
		if _, exists := resolver.entries[fingerprint]; exists {
			return nil, fmt.Errorf("invalid grant entry %q: duplicate fingerprint", entry)
		}
		set := NewTableSet(strings.Split(parts[1], "|")...)
		if len(set.tables) == 0 {
			return nil, fmt.Errorf("invalid grant entry %q: at least one table is required", entry)
		}
		resolver.entries[fingerprint] = set
	}
	return resolver, nil
}

// WithFallback sets what credentials without an entry may read.
func (r *StaticResolver) WithFallback(set TableSet) *StaticResolver {
	r.fallback = set
	return r
}

func (r *StaticResolver) Resolve(credential string) TableSet {
	if strings.TrimSpace(credential) == "" {
		return r.fallback
	}
	if set, ok := r.entries[Fingerprint(credential)]; ok {
		return set
	}
	return r.fallback
}

// Validate rejects grants naming tables the catalog does not define.
func (r *StaticResolver) Validate(catalog *schema.Catalog) error {
	check := func(set TableSet) error {
		for _, table := range set.Names() {
			if _, ok := catalog.Lookup(table); !ok {
				return fmt.Errorf("grant references unknown table %q", table)
			}
		}
		return nil
	}
	for _, set := range r.entries {
		if err := check(set); err != nil {
			return err
		}
	}
	return check(r.fallback)
}
