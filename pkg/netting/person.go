package netting

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mvallecillo/hogarfin/pkg/models"
)

// syntheticPrefix marks a person reference built from a display name
// because no registered person matched it.
const syntheticPrefix = "name:"

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds a display name into its comparison key: lowercase,
// diacritics stripped, inner whitespace collapsed. "José  Pérez" and
// "jose perez" normalize to the same key.
func NormalizeName(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(foldTransformer, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(s), " ")
}

// PersonRef identifies a participant in the netting graph. A registered
// person is referenced by id; a free-text name with no registered match
// gets a synthetic key derived from its normalized form, so the same
// spelling variants still net against each other.
type PersonRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	// Known is true when Key is a registered person id.
	Known bool `json:"known"`
}

// KnownRef builds a reference to a registered person.
func KnownRef(id, name string) PersonRef {
	return PersonRef{Key: id, Name: name, Known: true}
}

// SyntheticRef builds a name-only reference.
func SyntheticRef(name string) PersonRef {
	return PersonRef{Key: syntheticPrefix + NormalizeName(name), Name: strings.TrimSpace(name)}
}

// Directory resolves free-text names to registered people. A normalized
// name shared by two different people is ambiguous and resolves to
// nobody, so a typo can never silently move money between them.
type Directory struct {
	byID   map[string]models.Person
	byName map[string]string // normalized name -> person id, ambiguous excluded
}

// NewDirectory indexes the given people.
func NewDirectory(people []models.Person) *Directory {
	d := &Directory{
		byID:   make(map[string]models.Person, len(people)),
		byName: make(map[string]string, len(people)),
	}
	ambiguous := make(map[string]bool)
	for _, p := range people {
		d.byID[p.ID] = p
		key := NormalizeName(p.Name)
		if key == "" {
			continue
		}
		if existing, ok := d.byName[key]; ok && existing != p.ID {
			ambiguous[key] = true
			continue
		}
		d.byName[key] = p.ID
	}
	for key := range ambiguous {
		delete(d.byName, key)
	}
	return d
}

// Lookup returns the registered person with the given id.
func (d *Directory) Lookup(id string) (models.Person, bool) {
	p, ok := d.byID[id]
	return p, ok
}

// Resolve maps an (id, name) pair from a stored row to a PersonRef. An
// explicit id wins; otherwise the name is matched against the directory,
// and an unmatched or ambiguous name becomes a synthetic reference.
func (d *Directory) Resolve(id, name string) PersonRef {
	id = strings.TrimSpace(id)
	if id != "" {
		if p, ok := d.byID[id]; ok {
			return KnownRef(p.ID, p.Name)
		}
		return KnownRef(id, strings.TrimSpace(name))
	}
	key := NormalizeName(name)
	if key == "" {
		return PersonRef{}
	}
	if pid, ok := d.byName[key]; ok {
		return KnownRef(pid, d.byID[pid].Name)
	}
	return SyntheticRef(name)
}
