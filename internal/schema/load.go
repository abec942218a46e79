package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var definitionValidate *validator.Validate

func init() {
	definitionValidate = validator.New()
	_ = definitionValidate.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
}

type definition struct {
	Tables        []tableDefinition        `yaml:"tables" validate:"required,min=1,dive"`
	Relationships []relationshipDefinition `yaml:"relationships" validate:"dive"`
}

type tableDefinition struct {
	Name        string             `yaml:"name" validate:"required,sqlident"`
	Description string             `yaml:"description"`
	Entity      string             `yaml:"entity"`
	LabelColumn string             `yaml:"label_column" validate:"omitempty,sqlident"`
	DateColumn  string             `yaml:"date_column" validate:"omitempty,sqlident"`
	Measure     string             `yaml:"measure" validate:"omitempty,sqlident"`
	Source      string             `yaml:"source"`
	Aliases     []string           `yaml:"aliases" validate:"dive,required"`
	Columns     []columnDefinition `yaml:"columns" validate:"required,min=1,dive"`
}

type columnDefinition struct {
	Name    string   `yaml:"name" validate:"required,sqlident"`
	Type    string   `yaml:"type" validate:"required,oneof=string integer decimal date currency"`
	Aliases []string `yaml:"aliases" validate:"dive,required"`
}

type relationshipDefinition struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// Default returns the embedded warehouse catalog.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

func LoadFile(path string) (*Catalog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer func() { _ = file.Close() }()
	catalog, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	return catalog, nil
}

func Load(r io.Reader) (*Catalog, error) {
	var def definition
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode catalog definition: %w", err)
	}
	if err := definitionValidate.Struct(def); err != nil {
		return nil, fmt.Errorf("invalid catalog definition: %w", err)
	}
	return build(def)
}

func build(def definition) (*Catalog, error) {
	catalog := &Catalog{
		byName:  make(map[string]int, len(def.Tables)),
		aliases: map[string]target{},
	}

	for _, tableDef := range def.Tables {
		if _, exists := catalog.byName[tableDef.Name]; exists {
			return nil, fmt.Errorf("duplicate table %q", tableDef.Name)
		}
		table := Table{
			Name:        tableDef.Name,
			Description: strings.TrimSpace(tableDef.Description),
			Entity:      strings.TrimSpace(tableDef.Entity),
			LabelColumn: tableDef.LabelColumn,
			DateColumn:  tableDef.DateColumn,
			Measure:     tableDef.Measure,
			Source:      strings.TrimSpace(tableDef.Source),
			Aliases:     normalizeAll(tableDef.Aliases),
		}
		if table.Entity == "" {
			table.Entity = tableDef.Name
		}
		seen := map[string]struct{}{}
		for _, columnDef := range tableDef.Columns {
			if _, dup := seen[columnDef.Name]; dup {
				return nil, fmt.Errorf("table %q: duplicate column %q", tableDef.Name, columnDef.Name)
			}
			seen[columnDef.Name] = struct{}{}
			table.Columns = append(table.Columns, Column{
				Name:    columnDef.Name,
				Type:    SemanticType(columnDef.Type),
				Aliases: normalizeAll(columnDef.Aliases),
			})
		}
		if table.LabelColumn != "" {
			if _, ok := table.Column(table.LabelColumn); !ok {
				return nil, fmt.Errorf("table %q: label column %q does not exist", table.Name, table.LabelColumn)
			}
		}
		if table.DateColumn != "" {
			column, ok := table.Column(table.DateColumn)
			if !ok {
				return nil, fmt.Errorf("table %q: date column %q does not exist", table.Name, table.DateColumn)
			}
			if column.Type != TypeDate {
				return nil, fmt.Errorf("table %q: date column %q has type %s", table.Name, column.Name, column.Type)
			}
		}
		if table.Measure != "" {
			column, ok := table.Column(table.Measure)
			if !ok || !column.Type.Numeric() {
				return nil, fmt.Errorf("table %q: measure %q must be a numeric column", table.Name, table.Measure)
			}
		}
		catalog.byName[table.Name] = len(catalog.tables)
		catalog.tables = append(catalog.tables, table)
	}

	if err := catalog.indexAliases(); err != nil {
		return nil, err
	}

	for _, relDef := range def.Relationships {
		rel, err := catalog.parseRelationship(relDef)
		if err != nil {
			return nil, err
		}
		catalog.relationships = append(catalog.relationships, rel)
	}
	return catalog, nil
}

// indexAliases registers explicit aliases first, then table names and bare
// column names that are unique across the catalog. Two explicit aliases that
// collide make the catalog ambiguous and are rejected.
func (c *Catalog) indexAliases() error {
	explicit := map[string]target{}
	add := func(alias string, hit target) error {
		if prev, exists := explicit[alias]; exists && prev != hit {
			return fmt.Errorf("alias %q maps to both %s and %s", alias, prev.describe(), hit.describe())
		}
		explicit[alias] = hit
		return nil
	}
	for _, table := range c.tables {
		for _, alias := range table.Aliases {
			if err := add(alias, target{table: table.Name}); err != nil {
				return err
			}
		}
		for _, column := range table.Columns {
			for _, alias := range column.Aliases {
				if err := add(alias, target{table: table.Name, column: column.Name}); err != nil {
					return err
				}
			}
		}
	}

	implicit := map[string][]target{}
	for _, table := range c.tables {
		implicit[normalizePhrase(table.Name)] = append(implicit[normalizePhrase(table.Name)], target{table: table.Name})
		for _, column := range table.Columns {
			key := normalizePhrase(column.Name)
			implicit[key] = append(implicit[key], target{table: table.Name, column: column.Name})
			qualified := normalizePhrase(table.Name + " " + column.Name)
			implicit[qualified] = append(implicit[qualified], target{table: table.Name, column: column.Name})
		}
	}

	for key, hit := range explicit {
		c.aliases[key] = hit
	}
	for key, hits := range implicit {
		if _, taken := c.aliases[key]; taken || len(hits) != 1 {
			continue
		}
		c.aliases[key] = hits[0]
	}
	return nil
}

func (c *Catalog) parseRelationship(def relationshipDefinition) (Relationship, error) {
	fromTable, fromColumn, err := c.splitColumnRef(def.From)
	if err != nil {
		return Relationship{}, fmt.Errorf("relationship from: %w", err)
	}
	toTable, toColumn, err := c.splitColumnRef(def.To)
	if err != nil {
		return Relationship{}, fmt.Errorf("relationship to: %w", err)
	}
	return Relationship{FromTable: fromTable, FromColumn: fromColumn, ToTable: toTable, ToColumn: toColumn}, nil
}

func (c *Catalog) splitColumnRef(ref string) (string, string, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(ref)), ".")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected table.column, got %q", ref)
	}
	if !c.HasColumn(parts[0], parts[1]) {
		return "", "", fmt.Errorf("column %q does not exist", ref)
	}
	return parts[0], parts[1], nil
}

func (t target) describe() string {
	if t.column == "" {
		return t.table
	}
	return t.table + "." + t.column
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if normalized := normalizePhrase(value); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}
