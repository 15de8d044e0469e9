package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Candidate is one parsed, not yet reconciled, company row.
type Candidate struct {
	Index      string `json:"index" yaml:"index"`
	LegalName  string `json:"legal_name" yaml:"legal_name"`
	LegalID    string `json:"legal_id" yaml:"legal_id"`
	Address    string `json:"address" yaml:"address"`
	PageNumber int    `json:"page_number" yaml:"page_number"`
}

// Company is a registry entry the sync reconciles candidates against.
type Company struct {
	ID                string     `json:"id"`
	IDName            string     `json:"id_name"`
	LegalName         string     `json:"legal_name"`
	LegalID           string     `json:"legal_id"`
	DisplayName       string     `json:"display_name"`
	Category          string     `json:"category"`
	Description       string     `json:"description"`
	BlacklistedAt     *time.Time `json:"blacklisted_at,omitempty"`
	LastBlacklistedAt *time.Time `json:"last_blacklisted_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsBlacklisted reports whether the entry is currently flagged.
func (c *Company) IsBlacklisted() bool {
	return c.BlacklistedAt != nil
}

// CompanyFilter narrows a registry listing.
type CompanyFilter struct {
	Blacklisted *bool
	Limit       int
	Offset      int
}

// SyncError records a candidate the sync could not reconcile.
type SyncError struct {
	LegalName string `json:"legal_name" yaml:"legal_name"`
	LegalID   string `json:"legal_id" yaml:"legal_id"`
	Error     string `json:"error" yaml:"error"`
}

// SyncStats is the outcome of one reconciliation pass.
type SyncStats struct {
	TotalPDFCompanies int         `json:"total_pdf_companies" yaml:"total_pdf_companies"`
	Updated           int         `json:"updated" yaml:"updated"`
	Created           int         `json:"created" yaml:"created"`
	Unblacklisted     int64       `json:"unblacklisted" yaml:"unblacklisted"`
	Errors            []SyncError `json:"errors" yaml:"errors"`
}

// NameKey is the case-insensitive lookup key of a legal name.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
