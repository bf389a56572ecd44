// Package models defines data structures for the lookup.
package models

import "time"

// Record is the resolved metadata for one query.
type Record struct {
	Name          string `csv:"name" json:"name" yaml:"name"`
	Title         string `csv:"title" json:"title" yaml:"title"`
	Author        string `csv:"author" json:"author" yaml:"author"`
	CoverPageLink string `csv:"coverPageLink" json:"coverPageLink" yaml:"coverPageLink"`
}

// LookupResult holds the overall result of a lookup run
type LookupResult struct {
	Records      []*Record
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	FoundCount   int
	NotFound     int
	FailedCount  int
	Repeated     int
	RequestCount int
	ErrorsByType map[string]int
}
