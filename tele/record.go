package tele

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
)

// MaxPayload is the encoding buffer size for one record.
const MaxPayload = 128

const DefaultTopicPrefix = "/readings"

var ErrPayloadOverflow = errors.New("payload exceeds encoding buffer")

type Kind string

const (
	KindLink   Kind = "link"
	KindSensor Kind = "sensor"
)

// Record is one reading, built per publish cycle and discarded after.
type Record struct {
	NodeID string  `json:"id"`
	Uptime uint64  `json:"t"` // milliseconds
	Value  float64 `json:"v"`
}

func NewRecord(nodeID string, uptime time.Duration, value float64) Record {
	return Record{NodeID: nodeID, Uptime: uint64(uptime / time.Millisecond), Value: value}
}

// Encode returns compact payload or ErrPayloadOverflow, never truncates.
func (r Record) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Annotate(err, "record encode")
	}
	if len(b) > MaxPayload {
		return nil, errors.Annotatef(ErrPayloadOverflow, "size=%d max=%d", len(b), MaxPayload)
	}
	return b, nil
}

func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) > MaxPayload {
		return r, errors.Annotatef(ErrPayloadOverflow, "size=%d max=%d", len(b), MaxPayload)
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	if err := d.Decode(&r); err != nil {
		return r, errors.Annotate(err, "record decode")
	}
	if r.NodeID == "" {
		return r, errors.NotValidf("record without node id")
	}
	return r, nil
}

// Topic is `<prefix>/<kind>/<node-id>`.
func Topic(prefix string, kind Kind, nodeID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + string(kind) + "/" + nodeID
}

// NodeID is lowercase hex of hardware address.
func NodeID(mac net.HardwareAddr) string { return hex.EncodeToString(mac) }

func ClientID(nodeID string) string { return "node-" + nodeID }
