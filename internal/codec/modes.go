package codec

import (
	"encoding/binary"

	"github.com/bitdoglab/sectele/internal/primitive"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/juju/errors"
)

// aeadIVSuffix fills iv after 8 byte timestamp.
var aeadIVSuffix = [4]byte{0x00, 0x00, 0x00, 0x01}

type plainCodec struct{}

var _ Codec = plainCodec{}

func (plainCodec) Mode() types.Mode { return types.ModePlain }
func (plainCodec) MinFrame() int    { return plainMinLen }
func (plainCodec) Encode(m Measurement) ([]byte, error) {
	return encodePlain(m)
}
func (plainCodec) Decode(frame []byte) (Measurement, types.AuthVerdict, error) {
	m, err := decodePlain(frame)
	return m, types.AuthNotApplicable, err
}

type xorCodec struct{ key byte }

var _ Codec = xorCodec{}

func (xorCodec) Mode() types.Mode { return types.ModeXor }
func (xorCodec) MinFrame() int    { return plainMinLen }
func (self xorCodec) Encode(m Measurement) ([]byte, error) {
	b, err := encodePlain(m)
	if err != nil {
		return nil, err
	}
	xorInPlace(b, self.key)
	return b, nil
}
func (self xorCodec) Decode(frame []byte) (Measurement, types.AuthVerdict, error) {
	if len(frame) < plainMinLen {
		return Measurement{}, types.AuthNotApplicable, errors.Annotatef(ErrMalformed, "length=%d min=%d", len(frame), plainMinLen)
	}
	b := append([]byte(nil), frame...)
	xorInPlace(b, self.key)
	m, err := decodePlain(b)
	return m, types.AuthNotApplicable, err
}

func xorInPlace(b []byte, key byte) {
	for i := range b {
		b[i] ^= key
	}
}

type hmacCodec struct{ secret []byte }

var _ Codec = hmacCodec{}

func (hmacCodec) Mode() types.Mode { return types.ModeHmac }
func (hmacCodec) MinFrame() int    { return primitive.HmacTagLen + plainMinLen }
func (self hmacCodec) Encode(m Measurement) ([]byte, error) {
	body, err := encodePlain(m)
	if err != nil {
		return nil, err
	}
	tag := primitive.HMACSHA256(self.secret, body)
	b := make([]byte, 0, len(tag)+len(body))
	b = append(b, tag[:]...)
	b = append(b, body...)
	return b, nil
}
func (self hmacCodec) Decode(frame []byte) (Measurement, types.AuthVerdict, error) {
	if len(frame) < self.MinFrame() {
		return Measurement{}, types.AuthFailed, errors.Annotatef(ErrMalformed, "length=%d min=%d", len(frame), self.MinFrame())
	}
	got, body := frame[:primitive.HmacTagLen], frame[primitive.HmacTagLen:]
	expect := primitive.HMACSHA256(self.secret, body)
	if !primitive.HMACEqual(got, expect[:]) {
		return Measurement{}, types.AuthFailed, nil
	}
	m, err := decodePlain(body)
	return m, types.AuthVerified, err
}

type aeadCodec struct{ aead primitive.AEAD }

var _ Codec = aeadCodec{}

func (aeadCodec) Mode() types.Mode { return types.ModeAeadGcm }
func (aeadCodec) MinFrame() int {
	return primitive.AeadIVLen + primitive.AeadTagLen + plainMinLen
}
func (self aeadCodec) Encode(m Measurement) ([]byte, error) {
	body, err := encodePlain(m)
	if err != nil {
		return nil, err
	}
	iv := AeadIV(m.Timestamp)
	ct, tag, err := self.aead.Seal(iv[:], body)
	if err != nil {
		return nil, errors.Annotate(err, "aead seal")
	}
	b := make([]byte, 0, len(iv)+len(tag)+len(ct))
	b = append(b, iv[:]...)
	b = append(b, tag...)
	b = append(b, ct...)
	return b, nil
}
func (self aeadCodec) Decode(frame []byte) (Measurement, types.AuthVerdict, error) {
	if len(frame) < self.MinFrame() {
		return Measurement{}, types.AuthFailed, errors.Annotatef(ErrMalformed, "length=%d min=%d", len(frame), self.MinFrame())
	}
	iv := frame[:primitive.AeadIVLen]
	tag := frame[primitive.AeadIVLen : primitive.AeadIVLen+primitive.AeadTagLen]
	ct := frame[primitive.AeadIVLen+primitive.AeadTagLen:]
	plain, err := self.aead.Open(iv, ct, tag)
	if err != nil {
		return Measurement{}, types.AuthFailed, nil
	}
	m, err := decodePlain(plain)
	return m, types.AuthVerified, err
}

func AeadIV(ts uint64) [primitive.AeadIVLen]byte {
	var iv [primitive.AeadIVLen]byte
	binary.BigEndian.PutUint64(iv[:8], ts)
	copy(iv[8:], aeadIVSuffix[:])
	return iv
}
