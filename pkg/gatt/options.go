package gatt

// Options carries the per-call options BlueZ passes to ReadValue and WriteValue.
// Accessors never see them; they are logged and Offset is applied to reads.
type Options struct {
	Offset           uint16
	MTU              uint16
	Device           string
	Link             string
	Type             string // write type: "command", "request" or "reliable"
	PrepareAuthorize bool
	Raw              map[string]interface{}
}

// Fields returns the options as logging fields, omitting zero values.
func (o Options) Fields() map[string]interface{} {
	f := make(map[string]interface{}, 4)
	if o.Offset != 0 {
		f["offset"] = o.Offset
	}
	if o.MTU != 0 {
		f["mtu"] = o.MTU
	}
	if o.Device != "" {
		f["device"] = o.Device
	}
	if o.Link != "" {
		f["link"] = o.Link
	}
	if o.Type != "" {
		f["type"] = o.Type
	}
	if o.PrepareAuthorize {
		f["prepare_authorize"] = true
	}
	return f
}
