package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-sync/internal/model"
)

// scannable is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

const documentColumns = `id, file_key, original_filename, source_url, scraped_url, status, error_message, size, page_count, created_at, updated_at`

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.FileKey, &d.OriginalFilename, &d.SourceURL, &d.ScrapedURL,
		&d.Status, &d.ErrorMessage, &d.Size, &d.PageCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

const recordColumns = `id, pdf_document_id, data_type, raw_data, processed, page_number, created_at, updated_at`

func scanRecord(row scannable) (*model.ExtractedRecord, error) {
	var r model.ExtractedRecord
	var raw []byte
	err := row.Scan(&r.ID, &r.DocumentID, &r.DataType, &raw, &r.Processed, &r.PageNumber, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &r.RawData); err != nil {
		return nil, eris.Wrapf(err, "unmarshal raw_data of record %s", r.ID)
	}
	return &r, nil
}

const companyColumns = `id, id_name, legal_name, legal_id, display_name, category, description, blacklisted_at, last_blacklisted_at, created_at, updated_at`

func scanCompany(row scannable) (*model.Company, error) {
	var c model.Company
	err := row.Scan(&c.ID, &c.IDName, &c.LegalName, &c.LegalID, &c.DisplayName, &c.Category,
		&c.Description, &c.BlacklistedAt, &c.LastBlacklistedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const runColumns = `id, page_url, attribute_name, document_id, status, error, summary, started_at, completed_at`

func scanRun(row scannable) (*model.PipelineRun, error) {
	var r model.PipelineRun
	var summary []byte
	err := row.Scan(&r.ID, &r.PageURL, &r.AttributeName, &r.DocumentID, &r.Status, &r.Error,
		&summary, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return nil, eris.Wrapf(err, "unmarshal summary of run %s", r.ID)
		}
	}
	return &r, nil
}

func notFound(entity, id string) error {
	return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
}
