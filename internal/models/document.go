// Package models defines data structures for the labtree extraction pipeline.
package models

import "strings"

// ContentType identifies the kind of content held by a section block.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentList   ContentType = "list"
	ContentTable  ContentType = "table"
	ContentFigure ContentType = "figure"
	ContentCode   ContentType = "code"
)

// ContentBlock is one typed unit of section content.
type ContentBlock struct {
	Type    ContentType `json:"type" yaml:"type"`
	Text    string      `json:"text,omitempty" yaml:"text,omitempty"`
	Caption string      `json:"caption,omitempty" yaml:"caption,omitempty"`
	Items   []string    `json:"items,omitempty" yaml:"items,omitempty"`
}

// Section is one heading-delimited region of a structured document.
type Section struct {
	Title         string         `json:"title" yaml:"title"`
	Level         int            `json:"level" yaml:"level"`
	SectionNumber string         `json:"section_number,omitempty" yaml:"section_number,omitempty"`
	PageRange     string         `json:"page_range,omitempty" yaml:"page_range,omitempty"`
	Content       []ContentBlock `json:"content" yaml:"content"`
}

// StructuredDocument is the parsed form of a source document (paper, protocol,
// spreadsheet, transcript). Documents are read-only inputs; cleaning produces
// new values, never mutations.
type StructuredDocument struct {
	SourceID string    `json:"source_id" yaml:"source_id"`
	FileName string    `json:"file_name" yaml:"file_name"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty"`
	Sections []Section `json:"sections" yaml:"sections"`
}

// Text returns the concatenated textual content of a section.
func (s Section) Text() string {
	var b strings.Builder
	for _, c := range s.Content {
		if c.Text != "" {
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
		for _, item := range c.Items {
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ContentLength returns the total character count of all section text.
func (d StructuredDocument) ContentLength() int {
	total := 0
	for _, s := range d.Sections {
		total += len(s.Text())
	}
	return total
}

// CountBlocks returns the number of content blocks of the given type.
func (d StructuredDocument) CountBlocks(t ContentType) int {
	n := 0
	for _, s := range d.Sections {
		for _, c := range s.Content {
			if c.Type == t {
				n++
			}
		}
	}
	return n
}

// CountListItems returns the total number of list items across the document.
func (d StructuredDocument) CountListItems() int {
	n := 0
	for _, s := range d.Sections {
		for _, c := range s.Content {
			if c.Type == ContentList {
				n += len(c.Items)
			}
		}
	}
	return n
}
