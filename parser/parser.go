package parser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/aluiziolira/go-book-lookup/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sentinel values stored in place of missing data.
const (
	NotFound         = "Not Found"
	UnknownTitle     = "Unknown Title"
	UnknownAuthor    = "Unknown Author"
	NoImageAvailable = "No image available"
)

// VolumesResponse is the subset of the volumes search payload the lookup reads.
// Absent fields stay nil so defaults can be told apart from empty values.
type VolumesResponse struct {
	TotalItems int          `json:"totalItems"`
	Items      []VolumeItem `json:"items"`
}

// VolumeItem is one search hit.
type VolumeItem struct {
	ID         string      `json:"id"`
	VolumeInfo *VolumeInfo `json:"volumeInfo"`
}

// VolumeInfo carries the bibliographic fields of a hit.
type VolumeInfo struct {
	Title      *string     `json:"title"`
	Authors    []string    `json:"authors"`
	ImageLinks *ImageLinks `json:"imageLinks"`
}

// ImageLinks holds cover image URLs.
type ImageLinks struct {
	Thumbnail *string `json:"thumbnail"`
}

// DecodeVolumes parses a volumes search response body.
func DecodeVolumes(body []byte) (*VolumesResponse, error) {
	var resp VolumesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode volumes response: %w", err)
	}
	return &resp, nil
}

// HasMatch reports whether the response contains at least one item.
func (r *VolumesResponse) HasMatch() bool {
	return r != nil && len(r.Items) > 0
}

// Record converts the first match into a record for query, applying the
// per-field defaults. Without a match it returns NotFoundRecord(query).
func (r *VolumesResponse) Record(query string) models.Record {
	if !r.HasMatch() {
		return NotFoundRecord(query)
	}

	rec := models.Record{
		Name:          query,
		Title:         UnknownTitle,
		Author:        UnknownAuthor,
		CoverPageLink: NoImageAvailable,
	}

	info := r.Items[0].VolumeInfo
	if info == nil {
		return rec
	}
	if info.Title != nil {
		rec.Title = *info.Title
	}
	if info.Authors != nil {
		rec.Author = strings.Join(info.Authors, ", ")
	}
	if info.ImageLinks != nil && info.ImageLinks.Thumbnail != nil {
		rec.CoverPageLink = *info.ImageLinks.Thumbnail
	}
	return rec
}

// NotFoundRecord is the record stored for a query without any match.
func NotFoundRecord(query string) models.Record {
	return models.Record{
		Name:          query,
		Title:         NotFound,
		Author:        NotFound,
		CoverPageLink: NotFound,
	}
}

// ValidateRecord ensures a record can be written.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record missing name")
	}
	return nil
}
