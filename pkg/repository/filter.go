package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Filter is a set of top-level field equality constraints.
//
// Keys are JSON field names of the stored entity. A nil value matches a field
// that is null or absent. The company_id key is mandatory.
type Filter map[string]any

// CompanyID returns the tenant scope of the filter, or "" when absent.
func (f Filter) CompanyID() string {
	v, _ := f[FieldCompanyID].(string)
	return v
}

// Validate returns ErrMissingCompany when the filter has no tenant scope.
func (f Filter) Validate() error {
	if f.CompanyID() == "" {
		return ErrMissingCompany
	}
	return nil
}

// Field names every stored entity carries.
const (
	FieldID        = "id"
	FieldCompanyID = "company_id"
)

// Document is a decoded JSON entity.
type Document map[string]any

// DecodeDocument decodes raw JSON into a Document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Normalize converts v to the shape it would have after a JSON round trip
// (numbers become float64, structs become maps), so it can be compared
// against a decoded Document field.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string, bool, float64:
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FieldEquals reports whether doc[field] equals want after normalization.
// A nil want matches a null or absent field.
func FieldEquals(doc Document, field string, want any) (bool, error) {
	norm, err := Normalize(want)
	if err != nil {
		return false, fmt.Errorf("failed to normalize filter value for %s: %w", field, err)
	}
	got, ok := doc[field]
	if norm == nil {
		return !ok || got == nil, nil
	}
	return reflect.DeepEqual(got, norm), nil
}

// Matches reports whether doc satisfies every constraint in the filter.
func (f Filter) Matches(doc Document) (bool, error) {
	for field, want := range f {
		ok, err := FieldEquals(doc, field, want)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Keys returns the tenant and id of an encoded entity.
func Keys(data []byte) (companyID, id string, err error) {
	var head struct {
		ID        string `json:"id"`
		CompanyID string `json:"company_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	if head.CompanyID == "" {
		return "", "", ErrMissingCompany
	}
	if head.ID == "" {
		return "", "", fmt.Errorf("%w: missing id", ErrInvalidEntity)
	}
	return head.CompanyID, head.ID, nil
}

// PageOffset parses a page token produced by NextPageToken.
// The empty token is the first page.
func PageOffset(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid page token %q", token)
	}
	return n, nil
}

// NextPageToken returns the token for the page after one that started at
// offset and returned n results, or "" when the result set is exhausted.
func NextPageToken(offset, n, limit int, more bool) string {
	if limit <= 0 || !more {
		return ""
	}
	return strconv.Itoa(offset + n)
}
