package protocol

import (
	"encoding/json"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"roomsync/internal/errs"
)

// Codec 连接级编解码：JSON 走文本帧，msgpack 走二进制帧
type Codec interface {
	Name() string
	Binary() bool
	Encode(v Outbound) ([]byte, error)
	Decode(data []byte) (Inbound, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(v Outbound) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncodeFailed, v.Kind())
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (Inbound, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(err, errs.CodeMalformedMessage, "invalid json")
	}
	return Parse(raw)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(v Outbound) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeEncodeFailed, v.Kind())
	}
	return data, nil
}

func (msgpackCodec) Decode(data []byte) (Inbound, error) {
	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(err, errs.CodeMalformedMessage, "invalid msgpack")
	}
	return Parse(raw)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecFor 按名称选择编解码器，未知名称回落到 JSON
func CodecFor(name string) Codec {
	if strings.EqualFold(name, MsgPack.Name()) {
		return MsgPack
	}
	return JSON
}
