// Package contacts loads the address book the assistant resolves spoken names against.
package contacts

import (
	"fmt"
	"net/mail"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Contact is one address book entry
type Contact struct {
	Name    string   `toml:"name"`
	Email   string   `toml:"email"`
	Aliases []string `toml:"aliases"`
}

type bookFile struct {
	Contacts []Contact `toml:"contact"`
}

// Book is an immutable, name-sorted address book
type Book struct {
	contacts []Contact
}

// Load reads a TOML address book of [[contact]] tables. An empty path yields an empty book.
func Load(path string) (*Book, error) {
	if path == "" {
		return &Book{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contacts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an address book
func Parse(data []byte) (*Book, error) {
	var file bookFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse contacts file: %w", err)
	}

	seen := make(map[string]bool, len(file.Contacts))
	out := make([]Contact, 0, len(file.Contacts))
	for i, c := range file.Contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.Email = strings.TrimSpace(c.Email)
		if c.Name == "" {
			return nil, fmt.Errorf("contact %d: name is required", i+1)
		}
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return nil, fmt.Errorf("contact %q: invalid email %q", c.Name, c.Email)
		}
		key := strings.ToLower(c.Email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}

	return New(out), nil
}

// New builds a book from already validated contacts
func New(list []Contact) *Book {
	out := make([]Contact, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &Book{contacts: out}
}

// All returns a copy of every contact
func (b *Book) All() []Contact {
	if b == nil {
		return nil
	}
	out := make([]Contact, len(b.contacts))
	copy(out, b.contacts)
	return out
}

// Len returns the number of contacts
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.contacts)
}

// Lookup finds a contact by case-insensitive name, alias or first name
func (b *Book) Lookup(name string) (Contact, bool) {
	if b == nil {
		return Contact{}, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Contact{}, false
	}

	for _, c := range b.contacts {
		if strings.ToLower(c.Name) == name {
			return c, true
		}
		for _, alias := range c.Aliases {
			if strings.ToLower(alias) == name {
				return c, true
			}
		}
	}
	for _, c := range b.contacts {
		if first, _, _ := strings.Cut(strings.ToLower(c.Name), " "); first == name {
			return c, true
		}
	}
	return Contact{}, false
}
