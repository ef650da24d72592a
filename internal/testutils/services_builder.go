package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/gattd/pkg/gatt"
)

// CharacteristicConfig is a characteristic of a mocked attribute tree.
type CharacteristicConfig struct {
	Name        string             `json:"name"`
	UUID        string             `json:"uuid"`
	Flags       string             `json:"flags,omitempty"` // e.g. "read,write,notify"
	Value       string             `json:"value,omitempty"` // string value
	Static      bool               `json:"static,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// DescriptorConfig is a read-only descriptor of a mocked characteristic.
type DescriptorConfig struct {
	Name  string `json:"name"`
	UUID  string `json:"uuid"`
	Value string `json:"value,omitempty"`
}

// ServiceConfig is a service of a mocked attribute tree.
type ServiceConfig struct {
	Name            string                 `json:"name"`
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ServicesBuilder builds service specs backed by an in-memory value store.
// Reads return the stored value, writes replace it with the written string.
type ServicesBuilder struct {
	services []ServiceConfig
	store    *ValueStore
}

func NewServicesBuilder() *ServicesBuilder {
	return &ServicesBuilder{store: NewValueStore()}
}

// WithService adds a service.
func (b *ServicesBuilder) WithService(name, uuid string) *ServicesBuilder {
	b.services = append(b.services, ServiceConfig{Name: name, UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *ServicesBuilder) WithCharacteristic(name, uuid, flags, value string) *ServicesBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.services[len(b.services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		Name: name, UUID: uuid, Flags: flags, Value: value,
	})
	return b
}

// FromJSON replaces the configured services with a JSON array of ServiceConfig.
func (b *ServicesBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ServicesBuilder {
	var services []ServiceConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &services); err != nil {
		panic(fmt.Sprintf("ServicesBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.services = services
	return b
}

// Store returns the value store the built accessors use.
func (b *ServicesBuilder) Store() *ValueStore { return b.store }

// Build returns the service specs. Characteristic values are seeded into the
// store under "service/characteristic".
func (b *ServicesBuilder) Build() []gatt.ServiceSpec {
	specs := make([]gatt.ServiceSpec, 0, len(b.services))
	for _, sc := range b.services {
		svc := gatt.NewService(sc.Name, sc.UUID)
		for _, cc := range sc.Characteristics {
			svc.Characteristics = append(svc.Characteristics, b.characteristic(sc.Name+"/"+cc.Name, cc))
		}
		specs = append(specs, svc)
	}
	return specs
}

func (b *ServicesBuilder) characteristic(ref string, cc CharacteristicConfig) gatt.CharacteristicSpec {
	flags := gatt.Read | gatt.Write | gatt.Notify
	if cc.Flags != "" {
		var err error
		if flags, err = gatt.ParseFlags(strings.Split(cc.Flags, ",")...); err != nil {
			panic(fmt.Sprintf("ServicesBuilder: %s: %v", ref, err))
		}
	}

	var descs []gatt.DescriptorSpec
	for _, dc := range cc.Descriptors {
		descs = append(descs, gatt.ReadOnlyDescriptor(dc.Name, dc.UUID, gatt.String(dc.Value)))
	}

	if cc.Static {
		return gatt.ReadOnlyValue(cc.Name, cc.UUID, flags, gatt.String(cc.Value), descs...)
	}

	b.store.Set(ref, gatt.String(cc.Value))
	var read gatt.ReadFunc
	var write gatt.WriteFunc
	if flags.CanRead() {
		read = func() (gatt.Value, error) {
			v, _ := b.store.Get(ref)
			return v, nil
		}
	}
	if flags.CanWrite() {
		write = func(data []byte) (int32, error) {
			b.store.Set(ref, gatt.String(string(data)))
			return 0, nil
		}
	}
	return gatt.NewCharacteristic(cc.Name, cc.UUID, flags, read, write, descs...)
}

// ValueStore is a concurrency-safe map of characteristic values.
type ValueStore struct {
	mu     sync.Mutex
	values map[string]gatt.Value
	writes map[string]int
}

func NewValueStore() *ValueStore {
	return &ValueStore{values: map[string]gatt.Value{}, writes: map[string]int{}}
}

func (s *ValueStore) Get(ref string) (gatt.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[ref]
	return v, ok
}

func (s *ValueStore) Set(ref string, v gatt.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ref] = v
	s.writes[ref]++
}

// Writes returns how many times ref was set, including seeding.
func (s *ValueStore) Writes(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[ref]
}
