package model

import "github.com/rotisserie/eris"

// Sentinel errors shared by the pipeline stages. Stages wrap these so callers
// can branch with errors.Is.
var (
	ErrFetch        = eris.New("fetch failed")
	ErrLinkNotFound = eris.New("link not found")
	ErrDownload     = eris.New("download failed")
	ErrValidation   = eris.New("validation failed")
	ErrParse        = eris.New("parse failed")
	ErrMissingData  = eris.New("missing extracted data")
	ErrNotFound     = eris.New("not found")
	ErrInvalidInput = eris.New("invalid input")
)
