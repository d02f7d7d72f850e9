package nsq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// command is a single outbound protocol command: a newline-terminated
// command line, optionally followed by a length-prefixed body (or, for
// MPUB, a count-prefixed sequence of bodies).
type command struct {
	line          []byte
	body          []byte
	mpubBodies    [][]byte
	needsResponse bool
	done          chan responseResult
}

// responseResult is delivered on a command's done channel once its
// RESPONSE/ERROR frame arrives, or once the connection fails permanently.
type responseResult struct {
	payload []byte
	err     error
}

// WriteTo serializes the command to w, in the teacher pack's WriterTo
// idiom (see xianxueniao150-mini-nsq Command.WriteTo).
func (c *command) WriteTo(w io.Writer) (int64, error) {
	var total int64

	n, err := w.Write(c.line)
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write([]byte{'\n'})
	total += int64(n)
	if err != nil {
		return total, err
	}

	switch {
	case c.mpubBodies != nil:
		var size uint32
		for _, b := range c.mpubBodies {
			size += 4 + uint32(len(b))
		}
		var head [8]byte
		putUint32(head[0:4], size)
		putUint32(head[4:8], uint32(len(c.mpubBodies)))
		n, err = w.Write(head[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
		for _, b := range c.mpubBodies {
			var lenBuf [4]byte
			putUint32(lenBuf[:], uint32(len(b)))
			n, err = w.Write(lenBuf[:])
			total += int64(n)
			if err != nil {
				return total, err
			}
			n, err = w.Write(b)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	case c.body != nil:
		var lenBuf [4]byte
		putUint32(lenBuf[:], uint32(len(c.body)))
		n, err = w.Write(lenBuf[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write(c.body)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// coerceBody converts a raw byte buffer, a string, a JSON-able object, or a
// scalar into wire bytes, per §4.1's "Body coercion" rule.
func coerceBody(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, NewError(InvocationError, fmt.Errorf("cannot encode message body: %w", err))
		}
		// Bare bools and numbers are stringified with fmt.Sprint; maps,
		// structs and slices keep their JSON encoding.
		switch data.(type) {
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return []byte(fmt.Sprint(v)), nil
		}
		return encoded, nil
	}
}

func cmdIdentify(body []byte) *command {
	return &command{line: []byte("IDENTIFY"), body: body, needsResponse: true}
}

func cmdAuth(body []byte) *command {
	return &command{line: []byte("AUTH"), body: body, needsResponse: true}
}

func cmdSub(topic, channel string) *command {
	return &command{line: []byte("SUB " + topic + " " + channel), needsResponse: true}
}

func cmdPub(topic string, body []byte) *command {
	return &command{line: []byte("PUB " + topic), body: body, needsResponse: true}
}

func cmdDPub(topic string, delayMs int, body []byte) *command {
	return &command{line: []byte(fmt.Sprintf("DPUB %s %d", topic, delayMs)), body: body, needsResponse: true}
}

func cmdMPub(topic string, bodies [][]byte) *command {
	return &command{line: []byte("MPUB " + topic), mpubBodies: bodies, needsResponse: true}
}

func cmdRdy(count int) *command {
	return &command{line: []byte(fmt.Sprintf("RDY %d", count))}
}

func cmdFin(id string) *command {
	return &command{line: []byte("FIN " + id), needsResponse: true}
}

func cmdReq(id string, delayMs int) *command {
	return &command{line: []byte(fmt.Sprintf("REQ %s %d", id, delayMs)), needsResponse: true}
}

func cmdTouch(id string) *command {
	return &command{line: []byte("TOUCH " + id), needsResponse: true}
}

func cmdCls() *command {
	return &command{line: []byte("CLS"), needsResponse: true}
}

func cmdNop() *command {
	return &command{line: []byte("NOP")}
}

// identifyBody builds the JSON body sent with IDENTIFY.
func identifyBody(f IdentifyFeatures) ([]byte, error) {
	return json.Marshal(f)
}

// IdentifyFeatures is the JSON object sent as the IDENTIFY body.
type IdentifyFeatures struct {
	ClientID           string `json:"client_id,omitempty"`
	Hostname           string `json:"hostname,omitempty"`
	UserAgent          string `json:"user_agent,omitempty"`
	FeatureNegotiation bool   `json:"feature_negotiation"`
	MsgTimeout         int    `json:"msg_timeout,omitempty"`
	HeartbeatInterval  int    `json:"heartbeat_interval,omitempty"`
	// TLSv1/Snappy/Deflate/DeflateLevel are accepted by the wire protocol
	// but never enabled by this client; see SPEC_FULL.md §6A.
	TLSv1        bool `json:"tls_v1,omitempty"`
	Snappy       bool `json:"snappy,omitempty"`
	Deflate      bool `json:"deflate,omitempty"`
	DeflateLevel int  `json:"deflate_level,omitempty"`
	SampleRate   int  `json:"sample_rate,omitempty"`
}

// NegotiatedFeatures is the JSON object nsqd replies with to IDENTIFY.
type NegotiatedFeatures struct {
	MaxRdyCount      int64  `json:"max_rdy_count"`
	Version          string `json:"version"`
	MaxMsgTimeout    int    `json:"max_msg_timeout"`
	MsgTimeout       int    `json:"msg_timeout"`
	TLSv1            bool   `json:"tls_v1"`
	Deflate          bool   `json:"deflate"`
	DeflateLevel     int    `json:"deflate_level"`
	MaxDeflateLevel  int    `json:"max_deflate_level"`
	Snappy           bool   `json:"snappy"`
	SampleRate       int    `json:"sample_rate"`
	AuthRequired     bool   `json:"auth_required"`
	OutputBufferSize int    `json:"output_buffer_size"`
	OutputBufferTime int    `json:"output_buffer_timeout"`
}

func parseNegotiatedFeatures(payload []byte) (NegotiatedFeatures, error) {
	var features NegotiatedFeatures
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&features); err != nil {
		return NegotiatedFeatures{}, NewError(ProtocolFramingError, fmt.Errorf("decoding IDENTIFY response: %w", err))
	}
	if features.MsgTimeout == 0 {
		features.MsgTimeout = 60000
	}
	if features.MaxMsgTimeout == 0 {
		features.MaxMsgTimeout = 15 * 60000
	}
	return features, nil
}
