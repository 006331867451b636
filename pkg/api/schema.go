package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request schemas, compiled once at package init. Validation happens before
// any handler logic touches the payload.
var requestSchemas = map[string]*jsonschema.Schema{}

const createThreadSchema = `{
	"type": "object",
	"required": ["origin_type", "origin_identity", "intent"],
	"properties": {
		"origin_type": {"type": "string", "enum": ["human", "system", "scheduled", "delegated"]},
		"origin_identity": {"type": "string", "minLength": 1},
		"intent": {"type": "string", "minLength": 1},
		"constraints": {"type": "array", "items": {"type": "string"}},
		"metadata": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"additionalProperties": false
}`

const addHopSchema = `{
	"type": "object",
	"required": ["agent_id", "agent_type", "received_intent"],
	"properties": {
		"agent_id": {"type": "string", "minLength": 1},
		"agent_type": {"type": "string", "minLength": 1},
		"received_intent": {"type": "string", "minLength": 1},
		"actions": {"type": "array"}
	},
	"additionalProperties": false
}`

const closeThreadSchema = `{
	"type": "object",
	"required": ["outcome"],
	"properties": {
		"outcome": {"type": "string", "enum": ["success", "failure", "abandoned"]}
	},
	"additionalProperties": false
}`

const compareIntentSchema = `{
	"type": "object",
	"required": ["original_intent", "current_intent"],
	"properties": {
		"original_intent": {"type": "string", "minLength": 1},
		"current_intent": {"type": "string", "minLength": 1},
		"constraints": {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": false
}`

const contentSchema = `{
	"type": "object",
	"required": ["content"],
	"properties": {
		"content": {"type": "string"}
	},
	"additionalProperties": false
}`

const prepareAnchorSchema = `{
	"type": "object",
	"required": ["network"],
	"properties": {
		"network": {"type": "string", "minLength": 1},
		"thread_id": {"type": "string"}
	},
	"additionalProperties": false
}`

const submitAnchorSchema = `{
	"type": "object",
	"required": ["batch_id", "signed_tx"],
	"properties": {
		"batch_id": {"type": "string", "minLength": 1},
		"signed_tx": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

const resumeBatchSchema = `{
	"type": "object",
	"required": ["batch_id"],
	"properties": {
		"batch_id": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

func init() {
	sources := map[string]string{
		"create_thread":  createThreadSchema,
		"add_hop":        addHopSchema,
		"close_thread":   closeThreadSchema,
		"compare_intent": compareIntentSchema,
		"content":        contentSchema,
		"prepare_anchor": prepareAnchorSchema,
		"submit_anchor":  submitAnchorSchema,
		"resume_batch":   resumeBatchSchema,
	}
	for name, src := range sources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://weftlabs.dev/schemas/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("api: schema %s: %v", name, err))
		}
		compiled, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("api: schema %s: %v", name, err))
		}
		requestSchemas[name] = compiled
	}
}

// validateRequest checks a decoded JSON document against a named schema.
func validateRequest(name string, doc interface{}) error {
	schema, ok := requestSchemas[name]
	if !ok {
		return fmt.Errorf("no schema registered for %q", name)
	}
	return schema.Validate(doc)
}
