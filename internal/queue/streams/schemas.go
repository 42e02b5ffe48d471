package streams

import "fmt"

// Stream and consumer group names for the ingestion pipeline.
const (
	IngestStream = "docser.ingest"
	IngestGroup  = "ingest-workers"
)

// Event types carried on the ingestion stream.
const (
	EventIngestEnqueued  = "ingest.enqueued"
	EventIngestCompleted = "ingest.completed"
	EventIngestFailed    = "ingest.failed"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventIngestEnqueued,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "file", "content_type", "spool_path"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "file": {"type": "string", "minLength": 1},
    "content_type": {"type": "string"},
    "spool_path": {"type": "string", "minLength": 1},
    "batch_id": {"type": "string"},
    "uploaded_by": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventIngestCompleted,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "file", "document_id", "chunks"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "file": {"type": "string"},
    "document_id": {"type": "string"},
    "chunks": {"type": "integer", "minimum": 0},
    "duplicate": {"type": "boolean"},
    "content_hash": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventIngestFailed,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "file", "error"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "file": {"type": "string"},
    "error": {"type": "string", "minLength": 1},
    "retryable": {"type": "boolean"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the baseline event schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
