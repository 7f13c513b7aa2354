package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a persisted refresh session. RefreshHash is the hex SHA-256 of the refresh
// token currently bound to the session.
type Record struct {
	ID          string
	UserID      string
	RefreshHash string
	CreatedAt   time.Time
	LastUsedAt  time.Time
	ExpiresAt   time.Time
	Metadata    Metadata
}

// Active reports whether the record has not expired at now.
func (r *Record) Active(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

// MetadataKind tags the variant held by Metadata.
type MetadataKind uint8

const (
	MetadataNone MetadataKind = iota
	MetadataDevice
	MetadataRequest
)

func (k MetadataKind) String() string {
	switch k {
	case MetadataDevice:
		return "device"
	case MetadataRequest:
		return "request"
	default:
		return "none"
	}
}

// DeviceInfo describes a client that identified itself.
type DeviceInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RequestContext is what the transport observed about the caller.
type RequestContext struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

// Metadata is a closed variant: no metadata, a device description, or a request context.
// The zero value is MetadataNone.
type Metadata struct {
	kind    MetadataKind
	device  DeviceInfo
	request RequestContext
}

// DeviceMetadata wraps d.
func DeviceMetadata(d DeviceInfo) Metadata {
	return Metadata{kind: MetadataDevice, device: d}
}

// RequestMetadata wraps r.
func RequestMetadata(r RequestContext) Metadata {
	return Metadata{kind: MetadataRequest, request: r}
}

func (m Metadata) Kind() MetadataKind { return m.kind }

// Device returns the device variant, if held.
func (m Metadata) Device() (DeviceInfo, bool) {
	return m.device, m.kind == MetadataDevice
}

// Request returns the request-context variant, if held.
func (m Metadata) Request() (RequestContext, bool) {
	return m.request, m.kind == MetadataRequest
}

type metadataWire struct {
	Kind    string          `json:"kind"`
	Device  *DeviceInfo     `json:"device,omitempty"`
	Request *RequestContext `json:"request,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	w := metadataWire{Kind: m.kind.String()}
	switch m.kind {
	case MetadataDevice:
		d := m.device
		w.Device = &d
	case MetadataRequest:
		r := m.request
		w.Request = &r
	}
	return json.Marshal(w)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "", "none":
		*m = Metadata{}
	case "device":
		if w.Device == nil {
			return fmt.Errorf("session metadata: device variant without payload")
		}
		*m = DeviceMetadata(*w.Device)
	case "request":
		if w.Request == nil {
			return fmt.Errorf("session metadata: request variant without payload")
		}
		*m = RequestMetadata(*w.Request)
	default:
		return fmt.Errorf("session metadata: unknown kind %q", w.Kind)
	}
	return nil
}
