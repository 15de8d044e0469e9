package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// DataType tags the payload kind of an ExtractedRecord.
type DataType string

const (
	DataTypeText                DataType = "text"
	DataTypeTable               DataType = "table"
	DataTypeStructuredCompanies DataType = "structured_companies"
)

// ExtractedRecord is a typed blob of data pulled from a Document.
type ExtractedRecord struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"pdf_document"`
	DataType   DataType       `json:"data_type"`
	RawData    map[string]any `json:"raw_data"`
	Processed  bool           `json:"processed"`
	PageNumber *int           `json:"page_number,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RecordFilter narrows an extracted record listing.
type RecordFilter struct {
	DocumentID string
	DataType   DataType
	Limit      int
}

// CompanyPayload is the raw_data layout of a structured_companies record.
type CompanyPayload struct {
	Companies  []Candidate `json:"companies" yaml:"companies"`
	TotalCount int         `json:"total_count" yaml:"total_count"`
	Parser     string      `json:"parser" yaml:"parser"`
}

// Companies decodes RawData as a CompanyPayload.
func (r *ExtractedRecord) Companies() (CompanyPayload, error) {
	var p CompanyPayload
	if r.DataType != DataTypeStructuredCompanies {
		return p, eris.Wrapf(ErrInvalidInput, "record %s has data type %q", r.ID, r.DataType)
	}
	b, err := json.Marshal(r.RawData)
	if err != nil {
		return p, eris.Wrapf(err, "encode raw data of record %s", r.ID)
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, eris.Wrapf(err, "decode companies of record %s", r.ID)
	}
	return p, nil
}

// RawData converts p to the generic raw_data mapping.
func (p CompanyPayload) RawData() map[string]any {
	companies := make([]any, 0, len(p.Companies))
	for _, c := range p.Companies {
		companies = append(companies, map[string]any{
			"index":       c.Index,
			"legal_name":  c.LegalName,
			"legal_id":    c.LegalID,
			"address":     c.Address,
			"page_number": c.PageNumber,
		})
	}
	return map[string]any{
		"companies":   companies,
		"total_count": p.TotalCount,
		"parser":      p.Parser,
	}
}
