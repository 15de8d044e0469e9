package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/registry-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single connection serializes writers and keeps per-connection
	// pragmas in effect.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pdf_documents (
	id                TEXT PRIMARY KEY,
	file_key          TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	scraped_url       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	error_message     TEXT NOT NULL DEFAULT '',
	size              INTEGER NOT NULL DEFAULT 0,
	page_count        INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extracted_data (
	id              TEXT PRIMARY KEY,
	pdf_document_id TEXT NOT NULL REFERENCES pdf_documents(id) ON DELETE CASCADE,
	data_type       TEXT NOT NULL,
	raw_data        TEXT NOT NULL,
	processed       INTEGER NOT NULL DEFAULT 0,
	page_number     INTEGER,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id                  TEXT PRIMARY KEY,
	id_name             TEXT NOT NULL UNIQUE,
	legal_name          TEXT NOT NULL,
	legal_name_key      TEXT NOT NULL,
	legal_id            TEXT NOT NULL DEFAULT '',
	display_name        TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	blacklisted_at      DATETIME,
	last_blacklisted_at DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id             TEXT PRIMARY KEY,
	page_url       TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	document_id    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'running',
	error          TEXT NOT NULL DEFAULT '',
	summary        TEXT,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pdf_documents_status ON pdf_documents(status);
CREATE INDEX IF NOT EXISTS idx_extracted_data_document ON extracted_data(pdf_document_id, data_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_extracted_data_structured ON extracted_data(pdf_document_id) WHERE data_type = 'structured_companies';
CREATE INDEX IF NOT EXISTS idx_companies_legal_id ON companies(legal_id);
CREATE INDEX IF NOT EXISTS idx_companies_legal_name_key ON companies(legal_name_key);
CREATE INDEX IF NOT EXISTS idx_companies_blacklisted_at ON companies(blacklisted_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_page_url ON pipeline_runs(page_url);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	stampDocument(doc)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdf_documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.FileKey, doc.OriginalFilename, doc.SourceURL, doc.ScrapedURL, string(doc.Status),
		doc.ErrorMessage, doc.Size, doc.PageCount, doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM pdf_documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	return d, eris.Wrapf(err, "sqlite: get document %s", id)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM pdf_documents WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	docs := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pdf_documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update document status %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

func (s *SQLiteStore) SetDocumentPageCount(ctx context.Context, id string, pages int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pdf_documents SET page_count = ?, updated_at = ? WHERE id = ?`,
		pages, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set page count %s", id)
	}
	return checkRowsAffected(res, "document", id)
}

// --- Extracted records ---

func (s *SQLiteStore) ReplaceStructuredCompanies(ctx context.Context, documentID string, payload model.CompanyPayload) (*model.ExtractedRecord, error) {
	rec, raw, err := newStructuredRecord(documentID, payload)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM extracted_data WHERE pdf_document_id = ? AND data_type = ?`,
		documentID, string(model.DataTypeStructuredCompanies),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: delete structured companies of %s", documentID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extracted_data (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, string(rec.DataType), string(raw), rec.Processed, rec.PageNumber, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert structured companies of %s", documentID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit tx")
	}
	return rec, nil
}

func (s *SQLiteStore) GetLatestRecord(ctx context.Context, documentID string, dataType model.DataType) (*model.ExtractedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM extracted_data WHERE pdf_document_id = ? AND data_type = ?
		 ORDER BY created_at DESC LIMIT 1`,
		documentID, string(dataType),
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(string(dataType)+" record for document", documentID)
	}
	return r, eris.Wrapf(err, "sqlite: get record of %s", documentID)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.ExtractedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM extracted_data WHERE 1=1`
	var args []any
	if filter.DocumentID != "" {
		query += ` AND pdf_document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.DataType != "" {
		query += ` AND data_type = ?`
		args = append(args, string(filter.DataType))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	recs := []model.ExtractedRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

// --- Company registry ---

func (s *SQLiteStore) GetCompanyByLegalID(ctx context.Context, legalID string) (*model.Company, error) {
	return s.getCompany(ctx, `legal_id = ?`, legalID)
}

func (s *SQLiteStore) GetCompanyByNameKey(ctx context.Context, key string) (*model.Company, error) {
	return s.getCompany(ctx, `legal_name_key = ?`, key)
}

func (s *SQLiteStore) getCompany(ctx context.Context, where string, arg string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE `+where+` ORDER BY created_at, id LIMIT 1`, arg)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, eris.Wrap(err, "sqlite: get company")
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company) error {
	stampCompany(c)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (`+companyColumns+`, legal_name_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.IDName, c.LegalName, c.LegalID, c.DisplayName, c.Category, c.Description,
		c.BlacklistedAt, c.LastBlacklistedAt, c.CreatedAt, c.UpdatedAt, model.NameKey(c.LegalName),
	)
	return eris.Wrapf(err, "sqlite: insert company %q", c.LegalName)
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET legal_name = ?, legal_name_key = ?, legal_id = ?, display_name = ?, category = ?,
		 description = ?, blacklisted_at = ?, last_blacklisted_at = ?, updated_at = ? WHERE id = ?`,
		c.LegalName, model.NameKey(c.LegalName), c.LegalID, c.DisplayName, c.Category,
		c.Description, c.BlacklistedAt, c.LastBlacklistedAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company %s", c.ID)
	}
	return checkRowsAffected(res, "company", c.ID)
}

func (s *SQLiteStore) ResetBlacklist(ctx context.Context, at time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE companies SET last_blacklisted_at = blacklisted_at, blacklisted_at = NULL, updated_at = ?
		 WHERE blacklisted_at IS NOT NULL RETURNING id`,
		at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reset blacklist")
	}
	defer rows.Close() //nolint:errcheck

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reset id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: reset blacklist iterate")
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, filter model.CompanyFilter) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE 1=1`
	var args []any
	if filter.Blacklisted != nil {
		if *filter.Blacklisted {
			query += ` AND blacklisted_at IS NOT NULL`
		} else {
			query += ` AND blacklisted_at IS NULL`
		}
	}
	query += ` ORDER BY legal_name_key LIMIT ?`
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	companies := []model.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

// --- Run log ---

func (s *SQLiteStore) CreateRun(ctx context.Context, pageURL, attributeName string) (*model.PipelineRun, error) {
	run := newRun(pageURL, attributeName)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, page_url, attribute_name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.PageURL, run.AttributeName, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) SetRunDocument(ctx context.Context, runID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET document_id = ? WHERE id = ?`, documentID, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run document %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, eris.Wrapf(err, "sqlite: get run %s", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PageURL != "" {
		query += ` AND page_url = ?`
		args = append(args, filter.PageURL)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.PipelineRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func stampDocument(doc *model.Document) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = model.DocumentStatusPending
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
}

func stampCompany(c *model.Company) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if strings.TrimSpace(c.IDName) == "" {
		c.IDName = c.ID
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

func newStructuredRecord(documentID string, payload model.CompanyPayload) (*model.ExtractedRecord, []byte, error) {
	now := time.Now().UTC()
	rec := &model.ExtractedRecord{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		DataType:   model.DataTypeStructuredCompanies,
		RawData:    payload.RawData(),
		Processed:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	raw, err := json.Marshal(rec.RawData)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal structured companies")
	}
	return rec, raw, nil
}

func newRun(pageURL, attributeName string) *model.PipelineRun {
	return &model.PipelineRun{
		ID:            uuid.New().String(),
		PageURL:       pageURL,
		AttributeName: attributeName,
		Status:        model.RunStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
}
