package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed candidate.schema.json
var candidateSchemaJSON string

// Candidate is the extraction collaborator's output for one news item. The
// engine treats entities and CVE ids as already normalized upstream.
type Candidate struct {
	PayloadVersion string   `json:"payload_version"`
	Source         string   `json:"source"`
	SourceItemID   string   `json:"source_item_id"`
	Headline       string   `json:"headline,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Report         string   `json:"report,omitempty"`
	SourceURL      *string  `json:"source_url,omitempty"`
	PublishedAt    *string  `json:"published_at,omitempty"`
	Language       *string  `json:"language,omitempty"`
	Entities       []Entity `json:"entities,omitempty"`
	CVEs           []CVE    `json:"cves,omitempty"`
}

type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CVE struct {
	ID       string   `json:"id"`
	Severity *string  `json:"severity,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateCandidatePayload(payload json.RawMessage) (*Candidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var candidate Candidate
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&candidate); err != nil {
		return nil, err
	}

	return &candidate, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("candidate.schema.json", strings.NewReader(candidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(candidate *Candidate) error {
	if candidate == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(candidate.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(candidate.SourceItemID) == "" {
		return fmt.Errorf("source_item_id must not be empty")
	}
	if strings.TrimSpace(candidate.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}

	if candidate.SourceURL != nil {
		trimmed := strings.TrimSpace(*candidate.SourceURL)
		if trimmed == "" {
			return fmt.Errorf("source_url must not be empty")
		}
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return fmt.Errorf("source_url is not a valid URI: %w", err)
		}
	}
	if candidate.PublishedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*candidate.PublishedAt)); err != nil {
			return fmt.Errorf("published_at must be RFC3339: %w", err)
		}
	}

	for i, entity := range candidate.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			return fmt.Errorf("entities[%d].name must not be empty", i)
		}
	}
	for i, cve := range candidate.CVEs {
		if strings.TrimSpace(cve.ID) == "" {
			return fmt.Errorf("cves[%d].id must not be empty", i)
		}
	}

	return nil
}
