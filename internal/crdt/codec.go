package crdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Text-room frames are binary: a varuint message tag, then for sync frames
// a varuint subtype, then a length-prefixed JSON payload. Two tags are
// multiplexed on the one connection, mirroring the y-protocols layout.
const (
	MessageSync      uint64 = 0
	MessageAwareness uint64 = 1
)

// Sync subtypes: step1 carries the asker's state vector, step2 answers with
// the ops it was missing, update carries a freshly produced delta.
const (
	SyncStep1  uint64 = 0
	SyncStep2  uint64 = 1
	SyncUpdate uint64 = 2
)

// TextMessage is one decoded text-room frame.
type TextMessage struct {
	Type uint64
	Sync uint64 // valid when Type == MessageSync

	SV        StateVector      // step1
	Ops       []Op             // step2, update
	Awareness []AwarenessEntry // awareness
}

// EncodeSyncStep1 frames the local state vector, asking the peer for
// everything it is missing.
func EncodeSyncStep1(sv StateVector) []byte {
	return encodeSync(SyncStep1, sv)
}

// EncodeSyncStep2 frames the ops answering a step1.
func EncodeSyncStep2(ops []Op) []byte {
	return encodeSync(SyncStep2, ops)
}

// EncodeSyncUpdate frames a delta for broadcast.
func EncodeSyncUpdate(ops []Op) []byte {
	return encodeSync(SyncUpdate, ops)
}

// EncodeAwareness frames awareness entries.
func EncodeAwareness(entries []AwarenessEntry) []byte {
	buf := binary.AppendUvarint(nil, MessageAwareness)
	return appendPayload(buf, entries)
}

func encodeSync(sub uint64, payload any) []byte {
	buf := binary.AppendUvarint(nil, MessageSync)
	buf = binary.AppendUvarint(buf, sub)
	return appendPayload(buf, payload)
}

func appendPayload(buf []byte, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are plain data; marshal cannot fail on them.
		panic(fmt.Sprintf("crdt: encode payload: %v", err))
	}
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// DecodeMessage parses one text-room frame. Unknown tags are an error; the
// caller drops the frame and keeps the connection.
func DecodeMessage(data []byte) (*TextMessage, error) {
	r := bytes.NewReader(data)
	tag, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("crdt: read message tag: %w", err)
	}
	msg := &TextMessage{Type: tag}
	switch tag {
	case MessageSync:
		sub, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("crdt: read sync subtype: %w", err)
		}
		msg.Sync = sub
		switch sub {
		case SyncStep1:
			if err := readPayload(r, &msg.SV); err != nil {
				return nil, err
			}
		case SyncStep2, SyncUpdate:
			if err := readPayload(r, &msg.Ops); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("crdt: unknown sync subtype %d", sub)
		}
	case MessageAwareness:
		if err := readPayload(r, &msg.Awareness); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("crdt: unknown message tag %d", tag)
	}
	return msg, nil
}

func readPayload(r *bytes.Reader, out any) error {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("crdt: read payload length: %w", err)
	}
	if n > uint64(r.Len()) {
		return fmt.Errorf("crdt: payload length %d exceeds frame", n)
	}
	data := make([]byte, n)
	if _, err := r.Read(data); err != nil {
		return fmt.Errorf("crdt: read payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("crdt: decode payload: %w", err)
	}
	return nil
}
