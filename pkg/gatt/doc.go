// Package gatt describes a GATT attribute tree: services own characteristics,
// characteristics own descriptors, and readable or writable leaves carry
// application accessors or a fixed value.
//
// A tree is built once with Build, which validates names, UUIDs and the
// consistency between flags and accessors, and is immutable afterwards.
// Every node is addressed by a path formed from the root path and the names
// of its ancestors:
//
//	/dbus_gatt/example/device/test_char
package gatt
