package redisson

// Codec supplies the three encoders the core needs: a generic value
// encoder, and separate map-key/map-value encoders (Redis map-shaped
// commands like HSET treat keys and values differently in some codecs,
// e.g. a codec that compresses values but not keys). The core never
// inspects the resulting bytes.
type Codec interface {
	EncodeValue(v interface{}) ([]byte, error)
	EncodeMapKey(v interface{}) ([]byte, error)
	EncodeMapValue(v interface{}) ([]byte, error)
}

// ReferenceBuilder converts a user value into a persistent reference
// before encoding, when the value is something the caller wants stored by
// reference rather than by value (e.g. a handle to another stored
// object). Optional; when absent or when it declines a given value,
// encoding proceeds on the value as given.
type ReferenceBuilder interface {
	ToReference(v interface{}) (ref interface{}, ok bool)
}

// EncoderGateway is the thin layer between user values and the wire: it
// substitutes a persistent reference when a ReferenceBuilder is configured
// and applicable, then encodes via the given Codec. Encoding failure
// surfaces as a non-retriable InvalidArgumentError. Ownership of the
// returned Buffer transfers to the caller.
type EncoderGateway struct {
	RefBuilder ReferenceBuilder
}

func (g *EncoderGateway) substitute(v interface{}) interface{} {
	if g.RefBuilder == nil {
		return v
	}
	if ref, ok := g.RefBuilder.ToReference(v); ok {
		return ref
	}
	return v
}

// EncodeValue encodes v as a generic value argument.
func (g *EncoderGateway) EncodeValue(codec Codec, v interface{}) (*Buffer, error) {
	data, err := codec.EncodeValue(g.substitute(v))
	if err != nil {
		return nil, &InvalidArgumentError{Cause: err}
	}
	return NewBuffer(data), nil
}

// EncodeMapKey encodes v as a map-key argument.
func (g *EncoderGateway) EncodeMapKey(codec Codec, v interface{}) (*Buffer, error) {
	data, err := codec.EncodeMapKey(g.substitute(v))
	if err != nil {
		return nil, &InvalidArgumentError{Cause: err}
	}
	return NewBuffer(data), nil
}

// EncodeMapValue encodes v as a map-value argument.
func (g *EncoderGateway) EncodeMapValue(codec Codec, v interface{}) (*Buffer, error) {
	data, err := codec.EncodeMapValue(g.substitute(v))
	if err != nil {
		return nil, &InvalidArgumentError{Cause: err}
	}
	return NewBuffer(data), nil
}
