// Package identity resolves approver identities against an organization
// directory.
package identity

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/ruzuku/model"
)

// Person is one resolvable identity in the directory.
type Person struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Email       string `yaml:"email" json:"email"`
	Role        string `yaml:"role" json:"role,omitempty"`
	WebhookURL  string `yaml:"webhook_url" json:"-"`
}

// Directory resolves identities named in approver chains. Lookup returns
// IDENTITY_NOT_FOUND for unknown identities.
type Directory interface {
	Lookup(ctx context.Context, identityID string) (Person, error)
}

type directoryFile struct {
	People []Person `yaml:"people"`
}

// StaticDirectory is a Directory backed by a YAML file mapping identity IDs
// to people.
type StaticDirectory struct {
	path   string
	mu     sync.RWMutex
	people map[string]Person
}

// NewStaticDirectory creates a directory that loads people from path.
func NewStaticDirectory(path string) (*StaticDirectory, error) {
	d := &StaticDirectory{path: path}
	if err := d.Sync(); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup resolves an identity by ID or email.
func (d *StaticDirectory) Lookup(_ context.Context, identityID string) (Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if p, ok := d.people[identityID]; ok {
		return p, nil
	}
	for _, p := range d.people {
		if p.Email == identityID {
			return p, nil
		}
	}
	return Person{}, model.NewIdentityNotFoundError(identityID)
}

// Len reports how many people are loaded.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.people)
}

// Sync reloads the directory file from disk.
func (d *StaticDirectory) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("identity: reading directory file %s: %w", d.path, err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: parsing directory file %s: %w", d.path, err)
	}

	people := make(map[string]Person, len(f.People))
	for _, p := range f.People {
		people[p.ID] = p
	}

	d.mu.Lock()
	d.people = people
	d.mu.Unlock()

	return nil
}

// MemoryDirectory is an in-memory Directory for testing.
type MemoryDirectory struct {
	mu     sync.RWMutex
	people map[string]Person
}

// NewMemoryDirectory creates a directory holding the given people.
func NewMemoryDirectory(people ...Person) *MemoryDirectory {
	d := &MemoryDirectory{people: make(map[string]Person, len(people))}
	for _, p := range people {
		d.people[p.ID] = p
	}
	return d
}

// Lookup resolves an identity by ID.
func (d *MemoryDirectory) Lookup(_ context.Context, identityID string) (Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if p, ok := d.people[identityID]; ok {
		return p, nil
	}
	return Person{}, model.NewIdentityNotFoundError(identityID)
}

// Add registers a person. For testing.
func (d *MemoryDirectory) Add(p Person) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.people[p.ID] = p
}
