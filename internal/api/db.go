package api

import (
	"context"
	"database/sql"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ags/internal/service"
)

// DBHandler handles the journal database endpoints.
type DBHandler struct {
	db      *sql.DB
	journal *service.Journal
}

// NewDBHandler creates a new database handler. db may be nil when the
// journal is disabled.
func NewDBHandler(db *sql.DB, journal *service.Journal) *DBHandler {
	return &DBHandler{db: db, journal: journal}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/journal", h.GetJournal, huma.OperationTags("journal"))
	huma.Get(api, "/api/v1/journal/stats", h.GetJournalStats, huma.OperationTags("journal"))
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("journal"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("journal"))
}

// GetJournal returns journal entries of all overlays, newest first.
func (h *DBHandler) GetJournal(ctx context.Context, input *PageInput) (*JournalOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return journalPage(ctx, h.journal, "", *input)
}

// StatsOutput is the response for journal statistics.
type StatsOutput struct {
	Body []service.JournalStat
}

// GetJournalStats returns entry counts per overlay and kind.
func (h *DBHandler) GetJournalStats(ctx context.Context, input *struct{}) (*StatsOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	stats, err := h.journal.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to aggregate journal", err)
	}
	return &StatsOutput{Body: stats}, nil
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL query to execute" example:"SELECT kind, count(*) FROM requests GROUP BY kind"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Query results"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

// readOnly lists the statement keywords accepted by Query.
var readOnly = []string{"select", "with", "show", "describe", "summarize", "from"}

// Query executes a read-only SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if !isReadOnly(input.Body.Query) {
		return nil, huma.Error400BadRequest("Only read-only queries are allowed")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = results
	out.Body.Count = len(results)
	return out, nil
}

// isReadOnly accepts a single statement starting with a read-only keyword.
func isReadOnly(query string) bool {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") {
		return false
	}
	first := strings.ToLower(strings.Fields(q)[0])
	for _, kw := range readOnly {
		if first == kw {
			return true
		}
	}
	return false
}
