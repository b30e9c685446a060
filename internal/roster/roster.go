package roster

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/thread"
)

// DirectoryKeys are tried in order; the first holding a non-empty list wins.
var DirectoryKeys = []string{
	"portal.directory.staff",
	"portal.directory.employees",
	"portal.directory.people",
}

// UsernameKeyPrefix namespaces per-email username overrides.
const UsernameKeyPrefix = "portal.username:"

// DefaultOrg is the organization token used when a person has no company.
const DefaultOrg = "portal"

// Person is a roster entry.
type Person struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	Company  string `json:"company,omitempty" yaml:"company,omitempty"`
	Username string `json:"username,omitempty" yaml:"-"`
}

// Seed returns the demo roster used when no directory is present.
func Seed() []Person {
	return []Person{
		{Name: "Alice Admin", Email: "admin@portal.local", Company: "Portal Insurance"},
		{Name: "Sam Staff", Email: "staff@portal.local"},
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases s and collapses every run of other characters into one dash.
func Slug(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Derive computes the default handle: first name, a dot, then the company slug.
func Derive(name, company string) string {
	first := ""
	if fields := strings.Fields(name); len(fields) > 0 {
		first = Slug(fields[0])
	}
	org := Slug(company)
	if org == "" {
		org = DefaultOrg
	}
	if first == "" {
		return org
	}
	return first + "." + org
}

// Usernames memoizes handle resolution per email. Overrides come from the
// lookup function supplied at construction.
type Usernames struct {
	mu       sync.Mutex
	cache    map[string]string
	override func(email string) (string, bool)
}

// NewUsernames returns a resolver. A nil override disables overrides.
func NewUsernames(override func(email string) (string, bool)) *Usernames {
	return &Usernames{cache: make(map[string]string), override: override}
}

// Resolve returns the handle for p.
func (u *Usernames) Resolve(p Person) string {
	key := thread.Normalize(p.Email)
	u.mu.Lock()
	defer u.mu.Unlock()
	if name, ok := u.cache[key]; ok {
		return name
	}
	name := ""
	if u.override != nil {
		if o, ok := u.override(key); ok && strings.TrimSpace(o) != "" {
			name = strings.TrimSpace(o)
		}
	}
	if name == "" {
		name = Derive(p.Name, p.Company)
	}
	u.cache[key] = name
	return name
}

// Forget drops the cached handle for email.
func (u *Usernames) Forget(email string) {
	u.mu.Lock()
	delete(u.cache, thread.Normalize(email))
	u.mu.Unlock()
}

// Reset drops every cached handle.
func (u *Usernames) Reset() {
	u.mu.Lock()
	clear(u.cache)
	u.mu.Unlock()
}

// Resolver loads the roster from the store.
type Resolver struct {
	store     *kv.Store
	bus       bus.Notifier
	usernames *Usernames
}

// NewResolver creates a resolver over s. n may be nil.
func NewResolver(s *kv.Store, n bus.Notifier) *Resolver {
	r := &Resolver{store: s, bus: n}
	r.usernames = NewUsernames(func(email string) (string, bool) {
		var name string
		ok := s.Get(context.Background(), UsernameKeyPrefix+email, &name)
		return name, ok
	})
	return r
}

// Load returns the directory, or the seed when none is stored. Entries
// without an email are skipped.
func (r *Resolver) Load(ctx context.Context) []Person {
	people := Seed()
	for _, key := range DirectoryKeys {
		var list []Person
		if r.store.Get(ctx, key, &list) && len(valid(list)) > 0 {
			people = valid(list)
			break
		}
	}
	for i := range people {
		people[i].Username = r.usernames.Resolve(people[i])
	}
	return people
}

// Partners returns the roster without me.
func (r *Resolver) Partners(ctx context.Context, me string) []Person {
	all := r.Load(ctx)
	out := make([]Person, 0, len(all))
	for _, p := range all {
		if !thread.Same(p.Email, me) {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a roster entry by email.
func (r *Resolver) Lookup(ctx context.Context, email string) (Person, bool) {
	for _, p := range r.Load(ctx) {
		if thread.Same(p.Email, email) {
			return p, true
		}
	}
	return Person{}, false
}

// WriteDirectory stores people under the primary directory key.
func (r *Resolver) WriteDirectory(ctx context.Context, people []Person) {
	list := valid(people)
	for i := range list {
		list[i].Username = ""
	}
	r.store.Set(ctx, DirectoryKeys[0], list)
	r.usernames.Reset()
	r.changed()
}

// SetUsername stores a handle override for email.
func (r *Resolver) SetUsername(ctx context.Context, email, handle string) {
	key := thread.Normalize(email)
	r.store.Set(ctx, UsernameKeyPrefix+key, strings.TrimSpace(handle))
	r.usernames.Forget(key)
	r.changed()
}

// Invalidate drops memoized handles, e.g. after a remote directory write.
func (r *Resolver) Invalidate() {
	r.usernames.Reset()
}

func (r *Resolver) changed() {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: bus.KindRosterChanged})
}

// IsRosterKey reports whether key holds directory or username data.
func IsRosterKey(key string) bool {
	if strings.HasPrefix(key, UsernameKeyPrefix) {
		return true
	}
	for _, k := range DirectoryKeys {
		if key == k {
			return true
		}
	}
	return false
}

func valid(list []Person) []Person {
	out := make([]Person, 0, len(list))
	for _, p := range list {
		p.Email = strings.TrimSpace(p.Email)
		p.Name = strings.TrimSpace(p.Name)
		if p.Email == "" {
			continue
		}
		if p.Name == "" {
			p.Name = p.Email
		}
		out = append(out, p)
	}
	return out
}
