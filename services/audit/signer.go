package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/upb/tracex/models"
	"github.com/upb/tracex/services"
	"github.com/upb/tracex/utils"
)

// CanonicalPrefix versions the byte layout that signatures are computed over.
// Changing the encoding requires a new prefix.
const CanonicalPrefix = "tracex.v1\n"

// MetaKeySignature holds an audit event's signature in its meta
const MetaKeySignature = "signature"

// Payload is the exact data covered by an audit signature
type Payload struct {
	EventType    models.EventType `json:"event_type" validate:"required"`
	FunctionName string           `json:"function_name" validate:"required"`
	Timestamp    float64          `json:"timestamp" validate:"gte=0"`
	Duration     float64          `json:"duration" validate:"gte=0"`
	Args         []any            `json:"args"`
	Kwargs       models.Meta      `json:"kwargs"`
}

// Signer computes and checks HMAC-SHA256 signatures over canonical payloads
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. The key is copied.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, services.ErrMissingSigningKey
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical payload
func (s *Signer) Sign(p Payload) (string, error) {
	data, err := Canonicalize(p)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches the payload. The comparison is
// constant time.
func (s *Signer) Verify(p Payload, signature string) (bool, error) {
	expected, err := s.Sign(p)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// VerifyEvent rebuilds the payload of a recorded audit event and checks its
// signature. An event without a signature verifies as false.
func (s *Signer) VerifyEvent(ev models.TraceEvent) (bool, error) {
	p, err := PayloadFromEvent(ev)
	if err != nil {
		return false, err
	}
	sig, ok := SignatureFromEvent(ev)
	if !ok {
		return false, nil
	}
	return s.Verify(p, sig)
}

// Sign signs p with key
func Sign(p Payload, key []byte) (string, error) {
	s, err := NewSigner(key)
	if err != nil {
		return "", err
	}
	return s.Sign(p)
}

// Verify checks signature against p with key
func Verify(p Payload, signature string, key []byte) (bool, error) {
	s, err := NewSigner(key)
	if err != nil {
		return false, err
	}
	return s.Verify(p, signature)
}

// Canonicalize encodes p as the prefix followed by JSON with object keys
// sorted at every depth, no insignificant whitespace and no HTML escaping.
// Numbers keep their shortest decimal form, so 2 and 2.0 encode the same.
func Canonicalize(p Payload) ([]byte, error) {
	if err := utils.ValidateStruct(p); err != nil {
		derr := services.NewDomainError(services.ErrorTypeValidation, "invalid signing payload", err)
		for field, msg := range utils.GetValidationFields(err) {
			derr.WithDetail(field, msg)
		}
		return nil, derr
	}

	args := p.Args
	if args == nil {
		args = []any{}
	}
	doc := map[string]any{
		"event_type":    p.EventType,
		"function_name": p.FunctionName,
		"timestamp":     p.Timestamp,
		"duration":      p.Duration,
		"args":          args,
		"kwargs":        p.Kwargs,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, services.WrapValidation("invalid signing payload", err)
	}

	// Decoding into plain maps drops Meta's insertion order; encoding/json
	// then writes map keys sorted.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, services.WrapValidation("invalid signing payload", err)
	}

	var buf bytes.Buffer
	buf.WriteString(CanonicalPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, services.WrapValidation("invalid signing payload", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// PayloadFromEvent rebuilds the signed payload of an audit event. It works on
// events fresh from a wrapper and on events decoded from JSON.
func PayloadFromEvent(ev models.TraceEvent) (Payload, error) {
	if ev.EventType != models.EventTypeAuditCall {
		return Payload{}, services.ErrNotAuditEvent
	}

	p := Payload{
		EventType:    ev.EventType,
		FunctionName: ev.FunctionName,
		Timestamp:    ev.Timestamp,
		Duration:     ev.Duration,
	}

	if raw, ok := ev.Meta.Get("args"); ok && raw != nil {
		args, ok := raw.([]any)
		if !ok {
			return Payload{}, services.WrapValidation("invalid signing payload", fmt.Errorf("args is %T, want a list", raw))
		}
		p.Args = args
	}

	if raw, ok := ev.Meta.Get("kwargs"); ok && raw != nil {
		switch kw := raw.(type) {
		case models.Meta:
			p.Kwargs = kw
		case map[string]any:
			keys := make([]string, 0, len(kw))
			for k := range kw {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				p.Kwargs.Set(k, kw[k])
			}
		default:
			return Payload{}, services.WrapValidation("invalid signing payload", fmt.Errorf("kwargs is %T, want an object", raw))
		}
	}

	return p, nil
}

// SignatureFromEvent returns the signature stored in an event's meta
func SignatureFromEvent(ev models.TraceEvent) (string, bool) {
	raw, _ := ev.Meta.Get(MetaKeySignature)
	sig, ok := raw.(string)
	return sig, ok && sig != ""
}
