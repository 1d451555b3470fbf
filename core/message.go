package core

import (
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/najoast/sage/codec"
)

var messageIDCounter uint64

func nextMessageID() uint64 {
	return atomic.AddUint64(&messageIDCounter, 1)
}

// PropertyTransform converts a property between the value the application
// works with and the value stored in the message (and sent on the wire).
// Unpack must be the exact inverse of Pack.
type PropertyTransform struct {
	Pack   func(v any) any
	Unpack func(v any) any
}

// MessageDef declares a message type. Definitions are registered with a
// Registry, which makes them immutable.
type MessageDef struct {
	// Type is the message type tag used for subscriptions
	Type string

	// Properties is the ordered list of declared property names
	Properties []string

	// Transforms holds optional per-property pack/unpack functions
	Transforms map[string]PropertyTransform

	// PacketType is the wire id, 0 for messages that never leave the process
	PacketType uint8

	// Fields aligns a wire encoding with each property
	Fields []codec.Field

	layout *codec.Layout
}

// Networked reports whether messages of this type can be encoded.
func (d *MessageDef) Networked() bool {
	return d.layout != nil
}

// Layout returns the wire layout, nil for local-only types.
func (d *MessageDef) Layout() *codec.Layout {
	return d.layout
}

func (d *MessageDef) declares(name string) bool {
	for _, p := range d.Properties {
		if p == name {
			return true
		}
	}
	return false
}

// MessageOption configures a message at construction.
type MessageOption func(*Message)

// WithSender records where the message came from.
func WithSender(sender string) MessageOption {
	return func(m *Message) {
		m.sender = sender
	}
}

// WithReceiver designates the single receiver that may handle the message.
func WithReceiver(id ReceiverID) MessageOption {
	return func(m *Message) {
		m.receiver = id
	}
}

// New creates a message of this type. Properties are set without checking
// that they are declared; unknown names are reported by Validate.
func (d *MessageDef) New(props map[string]any, opts ...MessageOption) *Message {
	m := &Message{
		id:    nextMessageID(),
		def:   d,
		props: make(map[string]any, len(props)),
	}
	for name, v := range props {
		m.props[name] = d.pack(name, v)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (d *MessageDef) pack(name string, v any) any {
	if t, ok := d.Transforms[name]; ok && t.Pack != nil && v != nil {
		return t.Pack(v)
	}
	return v
}

func (d *MessageDef) unpack(name string, v any) any {
	if t, ok := d.Transforms[name]; ok && t.Unpack != nil && v != nil {
		return t.Unpack(v)
	}
	return v
}

// Message is a typed bag of properties routed between receivers.
// A message is not safe for concurrent mutation; once queued it should be
// treated as read-only.
type Message struct {
	id       uint64
	def      *MessageDef
	sender   string
	receiver ReceiverID
	props    map[string]any
}

// ID returns the process-wide unique id of the message.
func (m *Message) ID() uint64 {
	return m.id
}

// Type returns the message type tag.
func (m *Message) Type() string {
	return m.def.Type
}

// Def returns the definition the message was created from.
func (m *Message) Def() *MessageDef {
	return m.def
}

// Sender returns the origin of the message, empty for local messages.
func (m *Message) Sender() string {
	return m.sender
}

// ReceiverID returns the designated receiver, zero when any candidate may
// handle the message.
func (m *Message) ReceiverID() ReceiverID {
	return m.receiver
}

// SetReceiverID designates the receiver of the message.
func (m *Message) SetReceiverID(id ReceiverID) {
	m.receiver = id
}

// SetProperty sets a declared property.
func (m *Message) SetProperty(name string, v any) error {
	if !m.def.declares(name) {
		return fmt.Errorf("%w: %s.%s", ErrInvalidProperty, m.def.Type, name)
	}
	m.props[name] = m.def.pack(name, v)
	return nil
}

// Property returns a declared property, nil when unset.
func (m *Message) Property(name string) (any, error) {
	if !m.def.declares(name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrInvalidProperty, m.def.Type, name)
	}
	return m.def.unpack(name, m.props[name]), nil
}

// Get returns a property value or nil when it is unset or nil.
func (m *Message) Get(name string) any {
	return m.GetOr(name, nil)
}

// GetOr returns a property value, or def when it is unset or nil.
func (m *Message) GetOr(name string, def any) any {
	v, ok := m.props[name]
	if !ok || v == nil {
		return def
	}
	return m.def.unpack(name, v)
}

// Int returns an integer property regardless of its Go width, 0 if unset or
// not an integer.
func (m *Message) Int(name string) int64 {
	rv := reflect.ValueOf(m.Get(name))
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	return 0
}

// StringProperty returns a string property, empty if unset or not a string.
func (m *Message) StringProperty(name string) string {
	switch v := m.Get(name).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Validate checks that exactly the declared properties have been set.
func (m *Message) Validate() error {
	var missing, extra []string
	for _, p := range m.def.Properties {
		if _, ok := m.props[p]; !ok {
			missing = append(missing, p)
		}
	}
	for name := range m.props {
		if !m.def.declares(name) {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fmt.Errorf("%w: message %s missing %v unknown %v", ErrInvalidProperty, m.def.Type, missing, extra)
}

// Properties returns the stored property values in declaration order.
func (m *Message) Properties() []any {
	values := make([]any, len(m.def.Properties))
	for i, p := range m.def.Properties {
		values[i] = m.props[p]
	}
	return values
}

func (m *Message) String() string {
	return fmt.Sprintf("Message %s %d", m.def.Type, m.id)
}
