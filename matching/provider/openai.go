// Package provider implements the semantic-analysis capability on the
// OpenAI Responses API with strict structured outputs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/tidwall/gjson"
)

// intentItem mirrors the per-phrase object the director's prompt asks for.
type intentItem struct {
	FocusEntity       string   `json:"focus_entity"`
	SecondaryEntities []string `json:"secondary_entities"`
	VisualAction      string   `json:"visual_action"`
	Mood              string   `json:"mood"`
	Setting           string   `json:"setting"`
	Objects           []string `json:"objects"`
}

// intentWindow wraps the array: structured outputs require a top-level object.
type intentWindow struct {
	Phrases []intentItem `json:"phrases"`
}

var intentWindowSchema = GenerateSchema[intentWindow]()

const analyzerInstructions = `You are a film director agent. You receive a script analysis request and return visual instructions for each phrase, resolving entities and maintaining continuity exactly as the request describes. Respond only with the requested JSON.`

// OpenAIAnalyzer satisfies the director's Analyzer contract. Retries are the
// caller's concern; every call here is a single attempt.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer(apiKey string, model string) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("NewOpenAIAnalyzer: api key is empty")
	}
	if model == "" {
		return nil, errors.New("NewOpenAIAnalyzer: model is empty")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAnalyzer{client: &client, model: model}, nil
}

// Analyze sends one director prompt and returns the per-phrase JSON array as
// a string, unwrapping the schema's object envelope.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "VisualIntentWindow",
			Schema:      intentWindowSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Per-phrase visual intents"),
			Type:        "json_schema",
		},
	}

	params := responses.ResponseNewParams{
		Model:           a.model,
		MaxOutputTokens: openai.Int(2500),
		Instructions:    openai.String(analyzerInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.OutputText())
	if arr := gjson.Get(out, "phrases"); arr.Exists() && arr.IsArray() {
		return arr.Raw, nil
	}
	return out, nil
}

// GenerateSchema reflects T into a schema object accepted by the Responses
// API in strict mode (additionalProperties false, all properties required).
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	ensureStrictCompliance(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
)

func ensureStrictCompliance(schema map[string]interface{}) {
	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureStrictCompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureStrictCompliance(items)
	}

	if additionalProps, ok := schema[additionalPropertiesKey].(map[string]interface{}); ok {
		ensureStrictCompliance(additionalProps)
	}
}
