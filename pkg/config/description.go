package config

import (
	"fmt"

	"github.com/srg/gattd/pkg/gatt"
)

// ServiceDescription is a service as written in the config file.
type ServiceDescription struct {
	Name            string                      `yaml:"name"`
	UUID            string                      `yaml:"uuid"`
	Secondary       bool                        `yaml:"secondary"`
	Characteristics []CharacteristicDescription `yaml:"characteristics"`
}

// CharacteristicDescription is a characteristic as written in the config file.
// Type and Value give its initial value; Static makes it a fixed read-only value.
type CharacteristicDescription struct {
	Name        string                  `yaml:"name"`
	UUID        string                  `yaml:"uuid"`
	Flags       []string                `yaml:"flags"`
	Type        string                  `yaml:"type"` // string, int32, bool, bytes, uint8, uint16, uint32, int64
	Value       string                  `yaml:"value"`
	Static      bool                    `yaml:"static"`
	Descriptors []DescriptorDescription `yaml:"descriptors"`
}

// DescriptorDescription is a read-only descriptor as written in the config file.
type DescriptorDescription struct {
	Name  string `yaml:"name"`
	UUID  string `yaml:"uuid"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// Binder supplies the accessors of a configured characteristic. ref is the
// root-relative path "service/characteristic"; initial is the configured value.
type Binder func(ref string, initial gatt.Value) (gatt.ReadFunc, gatt.WriteFunc)

func parseValue(kind, text string) (gatt.Value, error) {
	if kind == "" {
		kind = "string"
	}
	k, err := gatt.ParseKind(kind)
	if err != nil {
		return gatt.Value{}, err
	}
	return gatt.ParseValue(k, text)
}

// Specs converts the configured services. Non-static characteristics get
// their accessors from bind; a nil bind serves the initial value read-only.
func (c *Config) Specs(bind Binder) ([]gatt.ServiceSpec, error) {
	specs := make([]gatt.ServiceSpec, 0, len(c.Services))
	for _, sd := range c.Services {
		svc := gatt.ServiceSpec{Name: sd.Name, UUID: sd.UUID, Secondary: sd.Secondary}
		for _, cd := range sd.Characteristics {
			ref := sd.Name + "/" + cd.Name
			cs, err := cd.spec(ref, bind)
			if err != nil {
				return nil, &gatt.ConfigurationError{Path: ref, Reason: "invalid description", Err: err}
			}
			svc.Characteristics = append(svc.Characteristics, cs)
		}
		specs = append(specs, svc)
	}
	return specs, nil
}

func (cd CharacteristicDescription) spec(ref string, bind Binder) (gatt.CharacteristicSpec, error) {
	flags, err := gatt.ParseFlags(cd.Flags...)
	if err != nil {
		return gatt.CharacteristicSpec{}, err
	}
	initial, err := parseValue(cd.Type, cd.Value)
	if err != nil {
		return gatt.CharacteristicSpec{}, fmt.Errorf("value: %w", err)
	}

	var descs []gatt.DescriptorSpec
	for _, dd := range cd.Descriptors {
		v, err := parseValue(dd.Type, dd.Value)
		if err != nil {
			return gatt.CharacteristicSpec{}, fmt.Errorf("descriptor %s: %w", dd.Name, err)
		}
		descs = append(descs, gatt.ReadOnlyDescriptor(dd.Name, dd.UUID, v))
	}

	if cd.Static || bind == nil {
		return gatt.ReadOnlyValue(cd.Name, cd.UUID, flags, initial, descs...), nil
	}
	read, write := bind(ref, initial)
	if !flags.CanRead() {
		read = nil
	}
	if !flags.CanWrite() {
		write = nil
	}
	return gatt.NewCharacteristic(cd.Name, cd.UUID, flags, read, write, descs...), nil
}

// ManufacturerBytes decodes ManufacturerData.
func (a Advertisement) ManufacturerBytes() ([]byte, error) {
	if a.ManufacturerData == "" {
		return nil, nil
	}
	v, err := gatt.ParseValue(gatt.KindBytes, a.ManufacturerData)
	if err != nil {
		return nil, err
	}
	raw, _ := v.Raw()
	return raw, nil
}
