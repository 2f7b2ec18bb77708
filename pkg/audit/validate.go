package audit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// eventSchema is the wire contract for audit events. Top-level and nested
// objects close over their properties so drifted producers are rejected
// instead of silently accepted.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["event_id", "occurred_at", "tenant_id", "actor", "request", "resource", "event_type", "severity", "summary", "payload"],
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "occurred_at": {"type": "string", "format": "date-time"},
    "tenant_id": {"type": "string", "minLength": 1},
    "actor": {
      "type": "object",
      "additionalProperties": false,
      "required": ["actor_type", "actor_id", "roles"],
      "properties": {
        "actor_type": {"type": "string", "minLength": 1},
        "actor_id": {"type": "string", "minLength": 1},
        "roles": {"type": "array", "items": {"type": "string"}},
        "ip": {"type": "string"},
        "user_agent": {"type": "string"}
      }
    },
    "request": {
      "type": "object",
      "additionalProperties": false,
      "required": ["request_id", "method", "path"],
      "properties": {
        "request_id": {"type": "string", "minLength": 1},
        "method": {"type": "string"},
        "path": {"type": "string"},
        "status_code": {"type": "integer"},
        "idempotency_key": {"type": "string"}
      }
    },
    "resource": {
      "type": "object",
      "additionalProperties": false,
      "required": ["resource_type", "resource_id"],
      "properties": {
        "resource_type": {"type": "string", "minLength": 1},
        "resource_id": {"type": "string", "minLength": 1}
      }
    },
    "event_type": {"type": "string", "pattern": "^[a-z][a-z0-9_]*(\\.[a-z][a-z0-9_]*)+$"},
    "severity": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
    "summary": {"type": "string", "minLength": 1, "maxLength": 1024},
    "payload": {
      "type": "object",
      "additionalProperties": false,
      "required": ["safe", "hashes", "refs"],
      "properties": {
        "safe": {"type": "object"},
        "hashes": {"type": "array", "items": {"type": "string"}},
        "refs": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileErr        error

	taggedHashRE = regexp.MustCompile(`^[a-z][a-z0-9_]*:[0-9a-f]{64}$`)

	// Keys that suggest the producer is about to leak a secret or free
	// text into the safe payload. Hashed forms go in payload.hashes.
	forbiddenSafeKeys = []string{
		"token", "secret", "password", "credential",
		"authorization", "api_key", "private_key", "justification",
	}
)

func schemaFor() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		const schemaURL = "https://idis.schemas.local/audit/event.schema.json"
		if err := c.AddResource(schemaURL, strings.NewReader(eventSchema)); err != nil {
			compileErr = fmt.Errorf("audit schema load failed: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Validate checks an in-process event against the contract: required
// identity fields, event type shape, and the payload discipline. It
// returns INVALID_INPUT on the first violation found.
func Validate(e Event) error {
	switch {
	case e.EventID == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: event_id is required")
	case e.OccurredAt.IsZero():
		return idiserr.New(idiserr.KindInvalidInput, "audit: occurred_at is required")
	case e.OccurredAt.Location() != time.UTC:
		return idiserr.New(idiserr.KindInvalidInput, "audit: occurred_at must be UTC")
	case e.TenantID == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: tenant_id is required")
	case e.Actor.ActorType == "" || e.Actor.ActorID == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: actor identity is required")
	case e.Request.RequestID == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: request_id is required")
	case e.Resource.ResourceType == "" || e.Resource.ResourceID == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: resource identity is required")
	case e.Summary == "":
		return idiserr.New(idiserr.KindInvalidInput, "audit: summary is required")
	}
	if !eventTypeOK(e.EventType) {
		return idiserr.Newf(idiserr.KindInvalidInput, "audit: malformed event_type %q", e.EventType)
	}
	switch e.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return idiserr.Newf(idiserr.KindInvalidInput, "audit: unknown severity %q", e.Severity)
	}
	return validatePayload(e.Payload)
}

// ValidateRaw checks a serialized event as received from an external
// producer or replayed from a sink. Unknown top-level or nested fields
// fail validation.
func ValidateRaw(raw []byte) (Event, error) {
	schema, err := schemaFor()
	if err != nil {
		return Event{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "audit: schema unavailable")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Event{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "audit: event is not valid JSON")
	}
	if err := schema.Validate(decoded); err != nil {
		return Event{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "audit: event rejected by schema")
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "audit: event decode failed")
	}
	if err := Validate(e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func eventTypeOK(eventType string) bool {
	if eventType == "" {
		return false
	}
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i, r := range p {
			switch {
			case r >= 'a' && r <= 'z':
			case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
			default:
				return false
			}
		}
	}
	return true
}

// validatePayload enforces the no-raw-sensitive-data discipline: safe
// values stay short and scalar, secrets travel only as tagged hashes,
// and refs are opaque ids.
func validatePayload(p Payload) error {
	for key, value := range p.Safe {
		lower := strings.ToLower(key)
		for _, forbidden := range forbiddenSafeKeys {
			if strings.Contains(lower, forbidden) {
				return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.safe key %q may carry sensitive data; hash it into payload.hashes", key)
			}
		}
		switch v := value.(type) {
		case string:
			if len(v) > 256 {
				return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.safe[%q] exceeds 256 chars; free text belongs in summary or a hashed ref", key)
			}
			if strings.ContainsAny(v, "\n\r") {
				return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.safe[%q] contains line breaks", key)
			}
		case bool, float64, int, int64, float32, nil:
		case json.Number:
		default:
			// Nested containers hide free text from review; flatten
			// them into scalar entries instead.
			return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.safe[%q] must be a scalar", key)
		}
	}
	for _, h := range p.Hashes {
		if !taggedHashRE.MatchString(h) {
			return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.hashes entry %q is not a tagged sha256 digest", h)
		}
	}
	for _, r := range p.Refs {
		if r == "" {
			return idiserr.New(idiserr.KindInvalidInput, "audit: payload.refs entries must be non-empty")
		}
		if len(r) > 512 {
			return idiserr.Newf(idiserr.KindInvalidInput, "audit: payload.refs entry %q exceeds 512 chars", r)
		}
	}
	return nil
}
