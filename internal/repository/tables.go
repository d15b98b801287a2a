package repository

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	documentsTable = "source_documents"
	attemptsTable  = "extraction_attempts"
	recordsTable   = "structured_records"
)

// large text columns become TEXT on postgres
const textSize = 1 << 24

func idColumn() *schema.Column {
	return &schema.Column{Name: "id", Type: field.TypeString, Size: 36}
}

var documents = schema.NewTable(documentsTable).
	AddPrimary(idColumn()).
	AddColumn(&schema.Column{Name: "case_id", Type: field.TypeString, Size: 64}).
	AddColumn(&schema.Column{Name: "kind", Type: field.TypeString, Size: 32}).
	AddColumn(&schema.Column{Name: "media_type", Type: field.TypeString, Size: 128}).
	AddColumn(&schema.Column{Name: "filename", Type: field.TypeString, Size: 255, Default: ""}).
	AddColumn(&schema.Column{Name: "content", Type: field.TypeBytes}).
	AddColumn(&schema.Column{Name: "content_hash", Type: field.TypeString, Size: 64}).
	AddColumn(&schema.Column{Name: "ingested_at", Type: field.TypeTime}).
	AddIndex("source_documents_case_hash", true, []string{"case_id", "content_hash"})

// attempts is the audit trail. Rows are inserted once and never updated.
var attempts = schema.NewTable(attemptsTable).
	AddPrimary(idColumn()).
	AddColumn(&schema.Column{Name: "case_id", Type: field.TypeString, Size: 64}).
	AddColumn(&schema.Column{Name: "schema_name", Type: field.TypeString, Size: 128}).
	AddColumn(&schema.Column{Name: "schema_version", Type: field.TypeInt}).
	AddColumn(&schema.Column{Name: "ordinal", Type: field.TypeInt}).
	AddColumn(&schema.Column{Name: "started_at", Type: field.TypeTime}).
	AddColumn(&schema.Column{Name: "finished_at", Type: field.TypeTime}).
	AddColumn(&schema.Column{Name: "outcome", Type: field.TypeString, Size: 32}).
	AddColumn(&schema.Column{Name: "field_errors", Type: field.TypeString, Size: textSize}).
	AddColumn(&schema.Column{Name: "error", Type: field.TypeString, Size: textSize, Default: ""}).
	AddColumn(&schema.Column{Name: "hint_count", Type: field.TypeInt, Default: 0}).
	AddIndex("extraction_attempts_case_schema_ordinal", true, []string{"case_id", "schema_name", "schema_version", "ordinal"})

var records = schema.NewTable(recordsTable).
	AddPrimary(idColumn()).
	AddColumn(&schema.Column{Name: "case_id", Type: field.TypeString, Size: 64}).
	AddColumn(&schema.Column{Name: "schema_name", Type: field.TypeString, Size: 128}).
	AddColumn(&schema.Column{Name: "schema_version", Type: field.TypeInt}).
	AddColumn(&schema.Column{Name: "attempt_id", Type: field.TypeString, Size: 36, Nullable: true}).
	AddColumn(&schema.Column{Name: "attempt_ordinal", Type: field.TypeInt, Default: 0}).
	AddColumn(&schema.Column{Name: "source", Type: field.TypeString, Size: 32}).
	AddColumn(&schema.Column{Name: "created_at", Type: field.TypeTime}).
	AddColumn(&schema.Column{Name: "data", Type: field.TypeString, Size: textSize}).
	AddIndex("structured_records_case_schema", true, []string{"case_id", "schema_name", "schema_version"})

// Tables is every table Migrate creates.
var Tables = []*schema.Table{documents, attempts, records}
