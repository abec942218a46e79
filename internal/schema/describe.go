package schema

type ColumnDescription struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
}

type TableDescription struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Aliases     []string            `json:"aliases,omitempty"`
	Columns     []ColumnDescription `json:"columns"`
}

type RelationshipDescription struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Description is the JSON view of a catalog used for model prompts and the
// schema endpoint.
type Description struct {
	Tables        []TableDescription        `json:"tables"`
	Relationships []RelationshipDescription `json:"relationships,omitempty"`
}

func (c *Catalog) Describe() Description {
	out := Description{Tables: make([]TableDescription, 0, len(c.tables))}
	for _, table := range c.tables {
		td := TableDescription{
			Name:        table.Name,
			Description: table.Description,
			Aliases:     append([]string(nil), table.Aliases...),
			Columns:     make([]ColumnDescription, 0, len(table.Columns)),
		}
		for _, column := range table.Columns {
			td.Columns = append(td.Columns, ColumnDescription{
				Name:    column.Name,
				Type:    string(column.Type),
				Aliases: append([]string(nil), column.Aliases...),
			})
		}
		out.Tables = append(out.Tables, td)
	}
	for _, rel := range c.relationships {
		out.Relationships = append(out.Relationships, RelationshipDescription{
			From: rel.FromTable + "." + rel.FromColumn,
			To:   rel.ToTable + "." + rel.ToColumn,
		})
	}
	return out
}
