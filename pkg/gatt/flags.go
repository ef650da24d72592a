package gatt

import (
	"fmt"
	"strings"
)

// Flags is a bitmask of GATT attribute flags. Each bit maps onto one of the
// flag strings BlueZ expects in the Flags property of characteristics and
// descriptors.
type Flags uint32

const (
	Broadcast Flags = 1 << iota
	Read
	WriteWithoutResponse
	Write
	Notify
	Indicate
	AuthenticatedSignedWrites
	ExtendedProperties
	ReliableWrite
	WritableAuxiliaries
	EncryptRead
	EncryptWrite
	EncryptAuthenticatedRead
	EncryptAuthenticatedWrite
	SecureRead
	SecureWrite
	Authorize
)

// ReadFlags are the flags that make an attribute readable by the peer.
const ReadFlags = Read | EncryptRead | EncryptAuthenticatedRead | SecureRead

// WriteFlags are the flags that make an attribute writable by the peer.
const WriteFlags = Write | WriteWithoutResponse | AuthenticatedSignedWrites | ReliableWrite |
	EncryptWrite | EncryptAuthenticatedWrite | SecureWrite

// NotifyFlags are the flags that allow value-changed signals.
const NotifyFlags = Notify | Indicate

var flagNames = []struct {
	flag Flags
	name string
}{
	{Broadcast, "broadcast"},
	{Read, "read"},
	{WriteWithoutResponse, "write-without-response"},
	{Write, "write"},
	{Notify, "notify"},
	{Indicate, "indicate"},
	{AuthenticatedSignedWrites, "authenticated-signed-writes"},
	{ExtendedProperties, "extended-properties"},
	{ReliableWrite, "reliable-write"},
	{WritableAuxiliaries, "writable-auxiliaries"},
	{EncryptRead, "encrypt-read"},
	{EncryptWrite, "encrypt-write"},
	{EncryptAuthenticatedRead, "encrypt-authenticated-read"},
	{EncryptAuthenticatedWrite, "encrypt-authenticated-write"},
	{SecureRead, "secure-read"},
	{SecureWrite, "secure-write"},
	{Authorize, "authorize"},
}

// Has reports whether any of the bits in other are set.
func (f Flags) Has(other Flags) bool {
	return f&other != 0
}

// CanRead reports whether the flags allow peer reads.
func (f Flags) CanRead() bool { return f.Has(ReadFlags) }

// CanWrite reports whether the flags allow peer writes.
func (f Flags) CanWrite() bool { return f.Has(WriteFlags) }

// CanNotify reports whether the flags allow notifications or indications.
func (f Flags) CanNotify() bool { return f.Has(NotifyFlags) }

// Strings returns the BlueZ flag strings in a fixed order.
func (f Flags) Strings() []string {
	out := make([]string, 0, 4)
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Strings(), ",")
}

// ParseFlags converts BlueZ flag strings back into a bitmask.
// Names are matched case-insensitively; underscores are accepted for dashes.
func ParseFlags(names ...string) (Flags, error) {
	var f Flags
	for _, raw := range names {
		name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
		if name == "" {
			continue
		}
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", raw)
		}
	}
	return f, nil
}
