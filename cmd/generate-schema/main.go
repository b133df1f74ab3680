// Command generate-schema writes the JSON schema of the DittoDrive config file.
//
// Usage: generate-schema [output-file]   ("-" writes to stdout)
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittodrive/pkg/config"
)

func main() {
	reflector := jsonschema.Reflector{
		// Config files are decoded with mapstructure, so its tags name the keys
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
					Description: "Go duration, e.g. 30s or 24h",
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoDrive Configuration"
	schema.Description = "Configuration schema for the DittoDrive server"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if outputFile == "-" {
		_, _ = os.Stdout.Write(append(schemaJSON, '\n'))
		return
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}
