// Package codec frames telemetry measurements for the wire, per security mode.
//
// Plain    "value,timestamp"
// Xor      Plain bytes XOR single key byte
// Hmac     tag[32] || Plain, tag=HMAC-SHA256(secret, Plain)
// AeadGcm  iv[12] || tag[16] || ciphertext, iv=BE uint64 timestamp || 00 00 00 01, no AAD
package codec

import (
	"bytes"
	"strconv"

	"github.com/bitdoglab/sectele/internal/primitive"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/juju/errors"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrInvalidValue = errors.New("invalid measurement value")
)

const plainMinLen = len("v,0")

type Measurement struct {
	Value     string
	Timestamp uint64 // microseconds since publisher start
}

func (m Measurement) Plain() string {
	return m.Value + "," + strconv.FormatUint(m.Timestamp, 10)
}

type Keys struct {
	Xor        byte
	HmacSecret []byte
	AesKey     []byte
}

type Codec interface {
	Mode() types.Mode
	// MinFrame is the shortest frame Decode will try to parse.
	MinFrame() int
	Encode(m Measurement) ([]byte, error)
	Decode(frame []byte) (Measurement, types.AuthVerdict, error)
}

// New returns codec for operating mode.
// Returns primitive.ErrUnavailable when key material does not fit the mode.
func New(mode types.Mode, keys Keys) (Codec, error) {
	switch mode {
	case types.ModePlain:
		return plainCodec{}, nil
	case types.ModeXor:
		return xorCodec{key: keys.Xor}, nil
	case types.ModeHmac:
		if len(keys.HmacSecret) == 0 {
			return nil, errors.Annotate(primitive.ErrUnavailable, "hmac secret is empty")
		}
		return hmacCodec{secret: append([]byte(nil), keys.HmacSecret...)}, nil
	case types.ModeAeadGcm:
		aead, err := primitive.NewAESGCM(keys.AesKey)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return aeadCodec{aead: aead}, nil
	}
	return nil, errors.NotValidf("codec mode=%s", mode.String())
}

func Encode(mode types.Mode, m Measurement, keys Keys) ([]byte, error) {
	c, err := New(mode, keys)
	if err != nil {
		return nil, err
	}
	return c.Encode(m)
}

func Decode(mode types.Mode, frame []byte, keys Keys) (Measurement, types.AuthVerdict, error) {
	c, err := New(mode, keys)
	if err != nil {
		return Measurement{}, types.AuthFailed, err
	}
	return c.Decode(frame)
}

// IsMalformed is true for undersized or unparsable frames.
func IsMalformed(err error) bool { return errors.Cause(err) == ErrMalformed }

func encodePlain(m Measurement) ([]byte, error) {
	if !ValidValue(m.Value) {
		return nil, errors.Annotatef(ErrInvalidValue, "value=%q", m.Value)
	}
	b := make([]byte, 0, len(m.Value)+1+20)
	b = append(b, m.Value...)
	b = append(b, ',')
	b = strconv.AppendUint(b, m.Timestamp, 10)
	return b, nil
}

func decodePlain(b []byte) (Measurement, error) {
	if len(b) < plainMinLen {
		return Measurement{}, errors.Annotatef(ErrMalformed, "length=%d min=%d", len(b), plainMinLen)
	}
	i := bytes.IndexByte(b, ',')
	if i <= 0 {
		return Measurement{}, errors.Annotate(ErrMalformed, "no value separator")
	}
	ts, err := strconv.ParseUint(string(b[i+1:]), 10, 64)
	if err != nil {
		return Measurement{}, errors.Annotatef(ErrMalformed, "timestamp: %v", err)
	}
	if !ValidValue(string(b[:i])) {
		return Measurement{}, errors.Annotate(ErrMalformed, "value is not printable")
	}
	return Measurement{Value: string(b[:i]), Timestamp: ts}, nil
}

// validValue: non-empty printable ASCII without separator.
func ValidValue(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ',' {
			return false
		}
	}
	return true
}
