package gadget

import "github.com/mkolbe/gadgetzero/pkg"

// String is one entry of a gadget string table. USB string indices are
// arbitrary bytes chosen by the function; the table is sparse.
type String struct {
	ID    uint8  // String descriptor index
	Value string // UTF-8 source text, encoded to UTF-16LE on request
}

// StringTable holds the string descriptors for one language.
type StringTable struct {
	Language uint16   // Language ID (e.g. 0x0409 for en-US)
	Strings  []String // Sparse, keyed by ID
}

// Lookup returns the string registered under the given index.
func (t *StringTable) Lookup(id uint8) (string, bool) {
	for i := range t.Strings {
		if t.Strings[i].ID == id {
			return t.Strings[i].Value, true
		}
	}
	return "", false
}

// Set registers or replaces the string under the given index.
// Index 0 is reserved for the language list and is ignored.
func (t *StringTable) Set(id uint8, value string) {
	if id == 0 {
		return
	}
	for i := range t.Strings {
		if t.Strings[i].ID == id {
			t.Strings[i].Value = value
			return
		}
	}
	t.Strings = append(t.Strings, String{ID: id, Value: value})
}

// MarshalString writes the string descriptor for the given index into buf.
// Index 0 yields the language ID list. Returns the number of bytes written,
// pkg.ErrNotFound for an unregistered index, or pkg.ErrNoSpace if buf cannot
// hold the whole descriptor.
func (t *StringTable) MarshalString(id uint8, buf []byte) (int, error) {
	if id == 0 {
		n := LanguageDescriptorTo(buf, t.Language)
		if n == 0 {
			return 0, pkg.ErrNoSpace
		}
		return n, nil
	}

	s, ok := t.Lookup(id)
	if !ok {
		return 0, pkg.ErrNotFound
	}
	n := StringDescriptorTo(buf, s)
	if n == 0 {
		return 0, pkg.ErrNoSpace
	}
	return n, nil
}
