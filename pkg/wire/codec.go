package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sep is the field separator. Payload fields must not contain it.
const Sep = "|"

// MaxBodySize is the maximum encoded body size in bytes (64 KiB).
// Bodies larger than this are a protocol error on both ends.
const MaxBodySize = 65536

// Codec errors.
var (
	// ErrBodyTooLarge indicates the encoded body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("body too large")

	// ErrBadBody indicates a body that does not parse as a message.
	ErrBadBody = errors.New("malformed body")
)

// Message is one decoded wire body.
type Message struct {
	// ClientType is the population tag from field 0.
	ClientType ClientType

	// Kind is the message kind tag from field 1.
	Kind Kind

	// Subject is field 2: device id, user id, place id, or sentinel.
	Subject string

	// Rest is the raw remainder after the third separator. It is not
	// re-split; handlers split it against their own payload schema so
	// embedded record lists survive forwarding verbatim.
	Rest string
}

// Fields splits Rest on the separator. Returns nil for an empty
// payload, so len(Fields()) is the payload field count.
func (m *Message) Fields() []string {
	if m.Rest == "" {
		return nil
	}
	return strings.Split(m.Rest, Sep)
}

// Encode builds a message body from its parts.
// It fails only when the result would exceed MaxBodySize.
func Encode(ct ClientType, kind Kind, subject string, fields ...string) ([]byte, error) {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(ct)))
	b.WriteString(Sep)
	b.WriteString(strconv.Itoa(int(kind)))
	b.WriteString(Sep)
	b.WriteString(subject)
	for _, f := range fields {
		b.WriteString(Sep)
		b.WriteString(f)
	}
	if b.Len() > MaxBodySize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, b.Len(), MaxBodySize)
	}
	return []byte(b.String()), nil
}

// Decode parses a message body.
//
// It fails if the body has fewer than three fields, the client type
// is unparseable, or the kind tag is outside [KindMin, KindMax]. An
// unknown-but-in-range kind decodes successfully; rejecting it is the
// router's decision, not the codec's.
func Decode(body []byte) (*Message, error) {
	s := string(body)

	ctStr, rest, ok := strings.Cut(s, Sep)
	if !ok {
		return nil, fmt.Errorf("%w: missing kind field", ErrBadBody)
	}
	kindStr, rest, ok := strings.Cut(rest, Sep)
	if !ok {
		return nil, fmt.Errorf("%w: missing subject field", ErrBadBody)
	}
	subject, payload, _ := strings.Cut(rest, Sep)

	ct, err := strconv.ParseUint(ctStr, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: bad client type %q", ErrBadBody, ctStr)
	}
	kind, err := strconv.ParseUint(kindStr, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: bad kind %q", ErrBadBody, kindStr)
	}
	if !Kind(kind).IsValid() {
		return nil, fmt.Errorf("%w: kind %d out of range", ErrBadBody, kind)
	}

	return &Message{
		ClientType: ClientType(ct),
		Kind:       Kind(kind),
		Subject:    subject,
		Rest:       payload,
	}, nil
}
