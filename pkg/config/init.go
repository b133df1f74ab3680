package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoDrive Configuration File
#
# Every value can be overridden with an environment variable named after its
# path, e.g. DITTODRIVE_LOGGING_LEVEL=DEBUG or
# DITTODRIVE_ADAPTERS_WEBDAV_JWT_SECRET=...`

// sectionComments documents the top-level sections of a generated file.
var sectionComments = map[string]string{
	"logging":    "Log output: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<path>",
	"server":     "Server-wide settings and the Prometheus endpoint",
	"repository": "Where drive items and versions are stored: memory, badger, sql (SQLite) or mongo.\nOnly the section matching type is used.",
	"storage":    "Blob storage. strategy single uses the one backend; composite writes to every\nbackend and reads in order. Backend types: memory, filesystem, s3, minio, b2.",
	"search":     "Search index: memory or mongo",
	"documents":  "Documents service: quotas, archive concurrency, editing sessions, download tokens",
	"directory":  "Company administrators (company id -> user ids) and anonymous identity prefixes",
	"antivirus":  "Malware scanner: none or http. Set documents.av_enabled to scan new versions.",
	"editors":    "External editor status service: static (no editor) or http",
	"gc":         "Trash retention: items trashed longer than retention are purged",
	"adapters":   "Protocol adapters",
}

// InitConfig writes a sample configuration file to the default location.
//
// Returns the path of the written file. Fails if the file exists and force
// is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path. Fresh random
// secrets are generated for WebDAV tokens and download tokens.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := GetDefaultConfig()
	for _, secret := range []*string{&cfg.Adapters.WebDAV.JWTSecret, &cfg.Documents.DownloadTokenSecret} {
		value, err := generateSecret()
		if err != nil {
			return err
		}
		*secret = value
	}

	content, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateYAMLWithComments renders cfg as YAML keyed by the mapstructure
// tags, in struct field order, with a comment above each section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root, err := toNode(reflect.ValueOf(cfg).Elem())
	if err != nil {
		return "", err
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = "# " + strings.ReplaceAll(comment, "\n", "\n# ")
		}
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func toNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: time.Duration(v.Int()).String()}, nil
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		return toNode(v.Elem())

	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
			if !field.IsExported() || name == "" || name == "-" {
				continue
			}
			value, err := toNode(v.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
				value,
			)
		}
		return node, nil

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Struct {
			node := &yaml.Node{Kind: yaml.SequenceNode}
			for i := 0; i < v.Len(); i++ {
				item, err := toNode(v.Index(i))
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, item)
			}
			return node, nil
		}
	}

	node := &yaml.Node{}
	if err := node.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return node, nil
}
