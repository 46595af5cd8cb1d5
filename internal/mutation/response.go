package mutation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/watchpatch/internal/ir"
)

// ErrMalformed is wrapped by every shape error from this package.
var ErrMalformed = errors.New("malformed mutation result")

// ParseResponse validates a raw GraphQL mutation response and extracts the
// mutated document.
//
// Expected shape:
//
//	{"data": {"createPost": {"data": {...} | null}}}
//
// A non-empty top-level "errors" array is reported as an error even if
// data is present; the mutation did not complete cleanly.
func ParseResponse(kind Kind, typeName string, raw []byte) (Result, error) {
	res := Result{Kind: kind, TypeName: typeName}
	if err := res.Validate(); err != nil {
		return Result{}, err
	}

	body, err := ir.UnmarshalIRObject(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if errs, ok := body["errors"].(ir.IRArray); ok && len(errs) > 0 {
		return Result{}, fmt.Errorf("mutation %s returned %d error(s): %s", MutationName(kind, typeName), len(errs), firstMessage(errs))
	}

	data, ok := body.Object("data")
	if !ok {
		return Result{}, fmt.Errorf("%w: missing data object", ErrMalformed)
	}

	name := MutationName(kind, typeName)
	payload, ok := data.Object(name)
	if !ok {
		if v, present := data[name]; present {
			if _, isNull := v.(ir.IRNull); isNull {
				return res, nil
			}
		}
		return Result{}, fmt.Errorf("%w: missing %s payload", ErrMalformed, name)
	}

	switch doc := payload["data"].(type) {
	case nil, ir.IRNull:
		return res, nil
	case ir.IRObject:
		res.Document = doc
		return res, nil
	default:
		return Result{}, fmt.Errorf("%w: %s.data is %s, want object", ErrMalformed, name, ir.TypeName(doc))
	}
}

func firstMessage(errs ir.IRArray) string {
	if obj, ok := errs[0].(ir.IRObject); ok {
		if msg, ok := obj["message"].(ir.IRString); ok {
			return string(msg)
		}
	}
	return "(no message)"
}

// envelope is the on-disk form of one mutation: either an already-extracted
// document or a raw GraphQL response.
type envelope struct {
	Kind     string          `json:"kind"`
	Type     string          `json:"type"`
	Document json.RawMessage `json:"document,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ParseEnvelope reads {"kind", "type", "document"} or
// {"kind", "type", "response"}.
func ParseEnvelope(raw []byte) (Result, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.result()
}

func (env envelope) result() (Result, error) {
	kind, err := ParseKind(env.Kind)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(env.Response) > 0 {
		if len(env.Document) > 0 {
			return Result{}, fmt.Errorf("%w: both document and response set", ErrMalformed)
		}
		return ParseResponse(kind, env.Type, env.Response)
	}

	res := Result{Kind: kind, TypeName: env.Type}
	if err := res.Validate(); err != nil {
		return Result{}, err
	}
	if len(env.Document) == 0 {
		return res, nil
	}

	doc, err := ir.UnmarshalIRValue(env.Document)
	if err != nil {
		return Result{}, fmt.Errorf("%w: document: %v", ErrMalformed, err)
	}
	switch d := doc.(type) {
	case ir.IRNull:
	case ir.IRObject:
		res.Document = d
	default:
		return Result{}, fmt.Errorf("%w: document is %s, want object", ErrMalformed, ir.TypeName(doc))
	}
	return res, nil
}

// ReadEnvelopes decodes a stream of envelopes: newline-delimited objects or
// a single JSON array of them.
func ReadEnvelopes(r io.Reader) ([]Result, error) {
	br := bufio.NewReader(r)
	if first, err := peekNonSpace(br); err == nil && first == '[' {
		var envs []envelope
		if err := json.NewDecoder(br).Decode(&envs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out := make([]Result, 0, len(envs))
		for i, env := range envs {
			res, err := env.result()
			if err != nil {
				return nil, fmt.Errorf("mutation %d: %w", i, err)
			}
			out = append(out, res)
		}
		return out, nil
	}

	var out []Result
	dec := json.NewDecoder(br)
	for i := 0; ; i++ {
		var env envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("mutation %d: %w: %v", i, ErrMalformed, err)
		}
		res, err := env.result()
		if err != nil {
			return nil, fmt.Errorf("mutation %d: %w", i, err)
		}
		out = append(out, res)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
