package state

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const msgpackPrefix = "msgpack:"

// Codec turns records into the string values kept by a Store.
type Codec interface {
	Name() string
	Encode(v any) (string, error)
}

func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// MsgpackCodec stores base64 msgpack behind a prefix so Decode can tell the
// formats apart. Struct fields use their json tags.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return msgpackPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reads a value written by either codec.
func Decode(raw string, v any) error {
	if rest, ok := strings.CutPrefix(raw, msgpackPrefix); ok {
		payload, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return fmt.Errorf("decode msgpack payload: %w", err)
		}
		dec := msgpack.NewDecoder(bytes.NewReader(payload))
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	}
	return json.Unmarshal([]byte(raw), v)
}
