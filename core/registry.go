package core

import (
	"fmt"
	"sync"

	"github.com/najoast/sage/codec"
)

// MaxReservedPacketType is the highest packet type kept for internal use.
const MaxReservedPacketType = 100

// Registry maps message type names and packet types to their definitions.
// It is append-only: definitions can be replaced by name but never removed.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*MessageDef
	packets map[uint8]*MessageDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*MessageDef),
		packets: make(map[uint8]*MessageDef),
	}
}

// Define validates and registers a message type. Defining a type name again
// replaces the previous definition.
func (r *Registry) Define(def *MessageDef) (*MessageDef, error) {
	if def == nil || def.Type == "" || def.Type == Wildcard {
		return nil, ErrInvalidMessageType
	}

	d := &MessageDef{
		Type:       def.Type,
		Properties: append([]string(nil), def.Properties...),
		Transforms: def.Transforms,
		PacketType: def.PacketType,
	}
	if def.PacketType != 0 {
		if def.PacketType <= MaxReservedPacketType {
			return nil, fmt.Errorf("%w: %s uses %d", ErrReservedPacketType, def.Type, def.PacketType)
		}
		if len(def.Fields) != len(def.Properties) {
			return nil, fmt.Errorf("%w: %s has %d properties and %d fields",
				ErrFieldCountMismatch, def.Type, len(def.Properties), len(def.Fields))
		}
		d.Fields = make([]codec.Field, len(def.Fields))
		for i, f := range def.Fields {
			f.Name = def.Properties[i]
			d.Fields[i] = f
		}
		d.layout = &codec.Layout{Name: d.Type, PacketType: d.PacketType, Fields: d.Fields}
		if err := d.layout.Validate(); err != nil {
			return nil, err
		}
	} else if len(def.Fields) != 0 {
		return nil, fmt.Errorf("%w: %s declares fields without a packet type", ErrFieldCountMismatch, def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d.PacketType != 0 {
		if prev, ok := r.packets[d.PacketType]; ok && prev.Type != d.Type {
			return nil, fmt.Errorf("%w: %d is used by %s", ErrDuplicatePacketType, d.PacketType, prev.Type)
		}
	}
	if prev, ok := r.types[d.Type]; ok && prev.PacketType != 0 && prev.PacketType != d.PacketType {
		delete(r.packets, prev.PacketType)
	}
	r.types[d.Type] = d
	if d.PacketType != 0 {
		r.packets[d.PacketType] = d
	}
	return d, nil
}

// MustDefine is like Define but panics on error. It is intended for
// package-level message declarations.
func (r *Registry) MustDefine(def *MessageDef) *MessageDef {
	d, err := r.Define(def)
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup returns the definition of a message type.
func (r *Registry) Lookup(msgType string) (*MessageDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[msgType]
	return d, ok
}

// LookupPacket returns the definition registered for a packet type.
func (r *Registry) LookupPacket(packetType uint8) (*MessageDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.packets[packetType]
	return d, ok
}

// Adhoc returns a property-less definition for msgType, creating it on first
// use. It fails when msgType already names a type that has properties.
func (r *Registry) Adhoc(msgType string) (*MessageDef, error) {
	if msgType == "" || msgType == Wildcard {
		return nil, ErrInvalidMessageType
	}
	if d, ok := r.Lookup(msgType); ok {
		if len(d.Properties) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrConcreteMessageDefined, msgType)
		}
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.types[msgType]; ok {
		return d, nil
	}
	d := &MessageDef{Type: msgType}
	r.types[msgType] = d
	return d, nil
}

// Encode serialises a message to its wire form.
func (r *Registry) Encode(msg *Message) ([]byte, error) {
	def := msg.Def()
	if !def.Networked() {
		return nil, fmt.Errorf("%w: %s", ErrNotNetworkable, def.Type)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return def.layout.Encode(msg.Properties())
}

// Decode parses a packet into a message of the registered type. The stored
// property values are the decoded wire values, so transforms apply on Get.
func (r *Registry) Decode(data []byte, sender string) (*Message, error) {
	pt, ok := codec.PacketTypeOf(data)
	if !ok {
		return nil, &codec.PacketError{Message: "packet", Err: codec.ErrTruncated}
	}
	def, ok := r.LookupPacket(pt)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, pt)
	}
	values, err := def.layout.Decode(data)
	if err != nil {
		return nil, err
	}
	m := &Message{
		id:     nextMessageID(),
		def:    def,
		sender: sender,
		props:  make(map[string]any, len(values)),
	}
	for i, p := range def.Properties {
		m.props[p] = values[i]
	}
	return m, nil
}
