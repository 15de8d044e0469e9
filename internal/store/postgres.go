package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-sync/internal/db"
	"github.com/sells-group/registry-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. The
// sync loop runs the company lookups once per candidate.
var preparedStatements = map[string]string{
	"get_company_by_legal_id": `SELECT ` + companyColumns + ` FROM companies WHERE legal_id = $1 ORDER BY created_at, id LIMIT 1`,
	"get_company_by_name_key": `SELECT ` + companyColumns + ` FROM companies WHERE legal_name_key = $1 ORDER BY created_at, id LIMIT 1`,
	"get_document":            `SELECT ` + documentColumns + ` FROM pdf_documents WHERE id = $1`,
	"get_run":                 `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// The tables may not exist before the first migrate.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pdf_documents (
	id                TEXT PRIMARY KEY,
	file_key          TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	scraped_url       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	error_message     TEXT NOT NULL DEFAULT '',
	size              BIGINT NOT NULL DEFAULT 0,
	page_count        INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracted_data (
	id              TEXT PRIMARY KEY,
	pdf_document_id TEXT NOT NULL REFERENCES pdf_documents(id) ON DELETE CASCADE,
	data_type       TEXT NOT NULL,
	raw_data        JSONB NOT NULL,
	processed       BOOLEAN NOT NULL DEFAULT false,
	page_number     INTEGER,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
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
	blacklisted_at      TIMESTAMPTZ,
	last_blacklisted_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id             TEXT PRIMARY KEY,
	page_url       TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	document_id    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'running',
	error          TEXT NOT NULL DEFAULT '',
	summary        JSONB,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pdf_documents_status ON pdf_documents(status);
CREATE INDEX IF NOT EXISTS idx_extracted_data_document ON extracted_data(pdf_document_id, data_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_extracted_data_structured ON extracted_data(pdf_document_id) WHERE data_type = 'structured_companies';
CREATE INDEX IF NOT EXISTS idx_companies_legal_id ON companies(legal_id);
CREATE INDEX IF NOT EXISTS idx_companies_legal_name_key ON companies(legal_name_key);
CREATE INDEX IF NOT EXISTS idx_companies_blacklisted_at ON companies(blacklisted_at) WHERE blacklisted_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_page_url ON pipeline_runs(page_url, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	stampDocument(doc)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pdf_documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		doc.ID, doc.FileKey, doc.OriginalFilename, doc.SourceURL, doc.ScrapedURL, string(doc.Status),
		doc.ErrorMessage, doc.Size, doc.PageCount, doc.CreatedAt, doc.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM pdf_documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("document", id)
	}
	return d, eris.Wrapf(err, "postgres: get document %s", id)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM pdf_documents WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pdf_documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update document status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("document", id)
	}
	return nil
}

func (s *PostgresStore) SetDocumentPageCount(ctx context.Context, id string, pages int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pdf_documents SET page_count = $1, updated_at = $2 WHERE id = $3`,
		pages, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set page count %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("document", id)
	}
	return nil
}

// --- Extracted records ---

// ReplaceStructuredCompanies deletes any existing structured_companies
// record of the document and inserts the new one in a single transaction.
func (s *PostgresStore) ReplaceStructuredCompanies(ctx context.Context, documentID string, payload model.CompanyPayload) (*model.ExtractedRecord, error) {
	rec, raw, err := newStructuredRecord(documentID, payload)
	if err != nil {
		return nil, err
	}

	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM extracted_data WHERE pdf_document_id = $1 AND data_type = $2`,
			documentID, string(model.DataTypeStructuredCompanies),
		); err != nil {
			return eris.Wrapf(err, "postgres: delete structured companies of %s", documentID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO extracted_data (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.DocumentID, string(rec.DataType), raw, rec.Processed, rec.PageNumber, rec.CreatedAt, rec.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert structured companies of %s", documentID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) GetLatestRecord(ctx context.Context, documentID string, dataType model.DataType) (*model.ExtractedRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM extracted_data WHERE pdf_document_id = $1 AND data_type = $2
		 ORDER BY created_at DESC LIMIT 1`,
		documentID, string(dataType),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(string(dataType)+" record for document", documentID)
	}
	return r, eris.Wrapf(err, "postgres: get record of %s", documentID)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.ExtractedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM extracted_data WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DocumentID != "" {
		query += fmt.Sprintf(` AND pdf_document_id = $%d`, argIdx)
		args = append(args, filter.DocumentID)
		argIdx++
	}
	if filter.DataType != "" {
		query += fmt.Sprintf(` AND data_type = $%d`, argIdx)
		args = append(args, string(filter.DataType))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	recs := []model.ExtractedRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// --- Company registry ---

func (s *PostgresStore) GetCompanyByLegalID(ctx context.Context, legalID string) (*model.Company, error) {
	return s.getCompany(ctx, `legal_id = $1`, legalID)
}

func (s *PostgresStore) GetCompanyByNameKey(ctx context.Context, key string) (*model.Company, error) {
	return s.getCompany(ctx, `legal_name_key = $1`, key)
}

func (s *PostgresStore) getCompany(ctx context.Context, where string, arg string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE `+where+` ORDER BY created_at, id LIMIT 1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, eris.Wrap(err, "postgres: get company")
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	stampCompany(c)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (`+companyColumns+`, legal_name_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.IDName, c.LegalName, c.LegalID, c.DisplayName, c.Category, c.Description,
		c.BlacklistedAt, c.LastBlacklistedAt, c.CreatedAt, c.UpdatedAt, model.NameKey(c.LegalName),
	)
	return eris.Wrapf(err, "postgres: insert company %q", c.LegalName)
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET legal_name = $1, legal_name_key = $2, legal_id = $3, display_name = $4, category = $5,
		 description = $6, blacklisted_at = $7, last_blacklisted_at = $8, updated_at = $9 WHERE id = $10`,
		c.LegalName, model.NameKey(c.LegalName), c.LegalID, c.DisplayName, c.Category,
		c.Description, c.BlacklistedAt, c.LastBlacklistedAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("company", c.ID)
	}
	return nil
}

func (s *PostgresStore) ResetBlacklist(ctx context.Context, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE companies SET last_blacklisted_at = blacklisted_at, blacklisted_at = NULL, updated_at = $1
		 WHERE blacklisted_at IS NOT NULL RETURNING id`,
		at,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reset blacklist")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "postgres: reset blacklist collect")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, filter model.CompanyFilter) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Blacklisted != nil {
		if *filter.Blacklisted {
			query += ` AND blacklisted_at IS NOT NULL`
		} else {
			query += ` AND blacklisted_at IS NULL`
		}
	}
	query += fmt.Sprintf(` ORDER BY legal_name_key LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	companies := []model.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

// --- Run log ---

func (s *PostgresStore) CreateRun(ctx context.Context, pageURL, attributeName string) (*model.PipelineRun, error) {
	run := newRun(pageURL, attributeName)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, page_url, attribute_name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.PageURL, run.AttributeName, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) SetRunDocument(ctx context.Context, runID, documentID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pipeline_runs SET document_id = $1 WHERE id = $2`, documentID, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run document %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, eris.Wrapf(err, "postgres: get run %s", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.PageURL != "" {
		query += fmt.Sprintf(` AND page_url = $%d`, argIdx)
		args = append(args, filter.PageURL)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.PipelineRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
