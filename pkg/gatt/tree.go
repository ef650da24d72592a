package gatt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is the SIG base onto which 16 and 32-bit UUIDs are expanded.
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// Tree is an immutable attribute tree with a flattened path index.
type Tree struct {
	root     string
	services []*Service
	index    map[string]Node
	paths    []string // declaration order, parents before children
}

// Build validates the specs and produces a tree rooted at root.
// On any problem it returns a *ConfigurationError and no tree.
func Build(root string, services ...ServiceSpec) (*Tree, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, configErrorf(root, "at least one service is required")
	}

	t := &Tree{
		root:  root,
		index: make(map[string]Node),
	}

	svcNames := make(map[string]struct{}, len(services))
	for _, ss := range services {
		svcPath := joinPath(root, ss.Name)
		if err := validateName(svcPath, ss.Name); err != nil {
			return nil, err
		}
		if _, dup := svcNames[ss.Name]; dup {
			return nil, configErrorf(svcPath, "duplicate service name %q", ss.Name)
		}
		svcNames[ss.Name] = struct{}{}

		u, err := NormalizeUUID(ss.UUID)
		if err != nil {
			return nil, &ConfigurationError{Path: svcPath, Reason: "malformed UUID", Err: err}
		}

		svc := &Service{
			base:    base{name: ss.Name, path: svcPath, uuid: u},
			primary: !ss.Secondary,
		}
		t.add(svc)

		charNames := make(map[string]struct{}, len(ss.Characteristics))
		for _, cs := range ss.Characteristics {
			char, err := buildCharacteristic(svc, cs, charNames)
			if err != nil {
				return nil, err
			}
			svc.characteristics = append(svc.characteristics, char)
			t.add(char)
			for _, d := range char.descriptors {
				t.add(d)
			}
		}
		t.services = append(t.services, svc)
	}

	return t, nil
}

func buildCharacteristic(svc *Service, cs CharacteristicSpec, seen map[string]struct{}) (*Characteristic, error) {
	path := joinPath(svc.path, cs.Name)
	if err := validateName(path, cs.Name); err != nil {
		return nil, err
	}
	if _, dup := seen[cs.Name]; dup {
		return nil, configErrorf(path, "duplicate characteristic name %q", cs.Name)
	}
	seen[cs.Name] = struct{}{}

	u, err := NormalizeUUID(cs.UUID)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Reason: "malformed UUID", Err: err}
	}
	if err := validateSource(path, cs.Flags, cs.Read, cs.Write, cs.Static); err != nil {
		return nil, err
	}

	char := &Characteristic{
		base:    base{name: cs.Name, path: path, uuid: u},
		source:  source{read: cs.Read, write: cs.Write, static: cloneValue(cs.Static)},
		flags:   cs.Flags,
		service: svc,
	}

	descNames := make(map[string]struct{}, len(cs.Descriptors))
	for _, ds := range cs.Descriptors {
		dpath := joinPath(path, ds.Name)
		if err := validateName(dpath, ds.Name); err != nil {
			return nil, err
		}
		if _, dup := descNames[ds.Name]; dup {
			return nil, configErrorf(dpath, "duplicate descriptor name %q", ds.Name)
		}
		descNames[ds.Name] = struct{}{}

		du, err := NormalizeUUID(ds.UUID)
		if err != nil {
			return nil, &ConfigurationError{Path: dpath, Reason: "malformed UUID", Err: err}
		}
		if ds.Flags.Has(NotifyFlags | Broadcast) {
			return nil, configErrorf(dpath, "descriptors cannot carry flags %s", ds.Flags&(NotifyFlags|Broadcast))
		}
		if err := validateSource(dpath, ds.Flags, ds.Read, ds.Write, ds.Static); err != nil {
			return nil, err
		}
		char.descriptors = append(char.descriptors, &Descriptor{
			base:           base{name: ds.Name, path: dpath, uuid: du},
			source:         source{read: ds.Read, write: ds.Write, static: cloneValue(ds.Static)},
			flags:          ds.Flags,
			characteristic: char,
		})
	}

	return char, nil
}

func validateSource(path string, flags Flags, read ReadFunc, write WriteFunc, static *Value) error {
	if static != nil {
		if !static.IsValid() {
			return configErrorf(path, "read-only value is invalid")
		}
		if flags.CanWrite() {
			return configErrorf(path, "read-only value cannot carry write flags (%s)", flags&WriteFlags)
		}
		if read != nil || write != nil {
			return configErrorf(path, "read-only value cannot also have accessors")
		}
		return nil
	}
	if flags.CanRead() && read == nil {
		return configErrorf(path, "flags %s require a read accessor", flags&ReadFlags)
	}
	if flags.CanWrite() && write == nil {
		return configErrorf(path, "flags %s require a write accessor", flags&WriteFlags)
	}
	return nil
}

func cloneValue(v *Value) *Value {
	if v == nil {
		return nil
	}
	c := *v
	if c.kind == KindBytes {
		c = Bytes(v.raw)
	}
	return &c
}

func (t *Tree) add(n Node) {
	t.index[n.Path()] = n
	t.paths = append(t.paths, n.Path())
}

// Root returns the root object path.
func (t *Tree) Root() string { return t.root }

// Services returns the services in declaration order.
func (t *Tree) Services() []*Service {
	return append([]*Service(nil), t.services...)
}

// Paths returns every node path, parents before children.
func (t *Tree) Paths() []string {
	return append([]string(nil), t.paths...)
}

// Lookup returns the node at an exact path.
func (t *Tree) Lookup(path string) (Node, bool) {
	n, ok := t.index[path]
	return n, ok
}

// Characteristic returns the characteristic at an exact path.
func (t *Tree) Characteristic(path string) (*Characteristic, bool) {
	n, ok := t.index[path]
	if !ok {
		return nil, false
	}
	c, ok := n.(*Characteristic)
	return c, ok
}

// Characteristics returns all characteristics in declaration order.
func (t *Tree) Characteristics() []*Characteristic {
	var out []*Characteristic
	for _, s := range t.services {
		out = append(out, s.characteristics...)
	}
	return out
}

// Resolve finds a node from a full path, a root-relative path such as
// "device/test_char", or a characteristic name that is unique in the tree.
func (t *Tree) Resolve(ref string) (Node, error) {
	if n, ok := t.index[ref]; ok {
		return n, nil
	}
	if !strings.HasPrefix(ref, "/") {
		if n, ok := t.index[joinPath(t.root, ref)]; ok {
			return n, nil
		}
	}
	if !strings.Contains(ref, "/") {
		var found Node
		for _, c := range t.Characteristics() {
			if c.name != ref {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%w: %q is ambiguous", ErrUnknownPath, ref)
			}
			found = c
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPath, ref)
}

// NormalizeUUID validates a UUID and returns its lowercase 128-bit form.
// 16 and 32-bit short forms (with or without 0x) are expanded onto the
// Bluetooth base UUID.
func NormalizeUUID(s string) (string, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	short := strings.TrimPrefix(in, "0x")
	if isHex(short) && (len(short) == 4 || len(short) == 8) {
		in = strings.Repeat("0", 8-len(short)) + short + bluetoothBaseUUID
	}
	u, err := uuid.Parse(in)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func validateRoot(root string) error {
	if root == "/" {
		return nil
	}
	if !strings.HasPrefix(root, "/") || strings.HasSuffix(root, "/") {
		return configErrorf(root, "root path must start with '/' and must not end with '/'")
	}
	for _, elem := range strings.Split(root[1:], "/") {
		if !validElement(elem) {
			return configErrorf(root, "invalid root path element %q", elem)
		}
	}
	return nil
}

func validateName(path, name string) error {
	if !validElement(name) {
		return configErrorf(path, "invalid name %q: must be non-empty and contain only [A-Za-z0-9_]", name)
	}
	return nil
}

func validElement(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
