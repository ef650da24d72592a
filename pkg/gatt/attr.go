package gatt

// ReadFunc produces the current value of a characteristic or descriptor.
// It runs on the dispatch loop and must return quickly.
type ReadFunc func() (Value, error)

// WriteFunc consumes a value written by the peer. A zero status means success.
// It runs on the dispatch loop and must return quickly.
type WriteFunc func(data []byte) (int32, error)

// ServiceSpec describes a service and its characteristics.
type ServiceSpec struct {
	Name            string
	UUID            string
	Secondary       bool
	Characteristics []CharacteristicSpec
}

// CharacteristicSpec describes a characteristic. Either Static or the
// accessors supply the value; Static forbids write flags.
type CharacteristicSpec struct {
	Name        string
	UUID        string
	Flags       Flags
	Read        ReadFunc
	Write       WriteFunc
	Static      *Value
	Descriptors []DescriptorSpec
}

// DescriptorSpec describes a descriptor of a characteristic.
type DescriptorSpec struct {
	Name   string
	UUID   string
	Flags  Flags
	Read   ReadFunc
	Write  WriteFunc
	Static *Value
}

// NewService returns a primary service spec.
func NewService(name, uuid string, chars ...CharacteristicSpec) ServiceSpec {
	return ServiceSpec{Name: name, UUID: uuid, Characteristics: chars}
}

// NewCharacteristic returns a characteristic backed by accessors; either may be nil.
func NewCharacteristic(name, uuid string, flags Flags, read ReadFunc, write WriteFunc, descs ...DescriptorSpec) CharacteristicSpec {
	return CharacteristicSpec{Name: name, UUID: uuid, Flags: flags, Read: read, Write: write, Descriptors: descs}
}

// ReadOnlyValue returns a characteristic whose value is fixed at construction.
func ReadOnlyValue(name, uuid string, flags Flags, value Value, descs ...DescriptorSpec) CharacteristicSpec {
	return CharacteristicSpec{Name: name, UUID: uuid, Flags: flags, Static: &value, Descriptors: descs}
}

// NewDescriptor returns a descriptor backed by accessors.
func NewDescriptor(name, uuid string, flags Flags, read ReadFunc, write WriteFunc) DescriptorSpec {
	return DescriptorSpec{Name: name, UUID: uuid, Flags: flags, Read: read, Write: write}
}

// ReadOnlyDescriptor returns a descriptor with a fixed value.
func ReadOnlyDescriptor(name, uuid string, value Value) DescriptorSpec {
	return DescriptorSpec{Name: name, UUID: uuid, Flags: Read, Static: &value}
}

// NodeKind tags the variant of a Node.
type NodeKind uint8

const (
	KindService NodeKind = iota + 1
	KindCharacteristic
	KindDescriptor
)

func (k NodeKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCharacteristic:
		return "characteristic"
	case KindDescriptor:
		return "descriptor"
	default:
		return "unknown"
	}
}

// Node is one attribute of a built tree: *Service, *Characteristic or *Descriptor.
type Node interface {
	Kind() NodeKind
	Name() string
	Path() string
	UUID() string
	Flags() Flags
	Parent() Node
}

// Accessor is the value capability of characteristics and descriptors.
type Accessor interface {
	Node
	Static() (Value, bool)
	Reader() ReadFunc
	Writer() WriteFunc
}

type base struct {
	name string
	path string
	uuid string
}

func (b *base) Name() string { return b.name }
func (b *base) Path() string { return b.path }
func (b *base) UUID() string { return b.uuid }

type source struct {
	read   ReadFunc
	write  WriteFunc
	static *Value
}

func (s *source) Static() (Value, bool) {
	if s.static == nil {
		return Value{}, false
	}
	return *s.static, true
}

func (s *source) Reader() ReadFunc { return s.read }
func (s *source) Writer() WriteFunc { return s.write }

// Service is a built service node.
type Service struct {
	base
	primary         bool
	characteristics []*Characteristic
}

func (s *Service) Kind() NodeKind { return KindService }
func (s *Service) Flags() Flags { return 0 }
func (s *Service) Parent() Node { return nil }
func (s *Service) Primary() bool { return s.primary }

// Characteristics returns the characteristics in declaration order.
func (s *Service) Characteristics() []*Characteristic {
	return append([]*Characteristic(nil), s.characteristics...)
}

// Characteristic is a built characteristic node.
type Characteristic struct {
	base
	source
	flags       Flags
	service     *Service
	descriptors []*Descriptor
}

func (c *Characteristic) Kind() NodeKind { return KindCharacteristic }
func (c *Characteristic) Flags() Flags { return c.flags }
func (c *Characteristic) Parent() Node { return c.service }
func (c *Characteristic) Service() *Service { return c.service }

// Descriptors returns the descriptors in declaration order.
func (c *Characteristic) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), c.descriptors...)
}

// Descriptor is a built descriptor node.
type Descriptor struct {
	base
	source
	flags          Flags
	characteristic *Characteristic
}

func (d *Descriptor) Kind() NodeKind { return KindDescriptor }
func (d *Descriptor) Flags() Flags { return d.flags }
func (d *Descriptor) Parent() Node { return d.characteristic }
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }
