package memstore

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// frontmatter is the YAML header at the top of every memory file.
type frontmatter struct {
	ID       string    `yaml:"id"`
	Type     Type      `yaml:"type"`
	Category string    `yaml:"category"`
	Tags     []string  `yaml:"tags,flow"`
	Created  time.Time `yaml:"created"`
	Updated  time.Time `yaml:"updated"`
	Pinned   bool      `yaml:"pinned"`
}

// encodeFile renders a memory file: fenced YAML header, a blank line, then
// the trimmed body.
func encodeFile(fm frontmatter, content string) ([]byte, error) {
	if fm.Tags == nil {
		fm.Tags = []string{}
	}
	fm.Created = fm.Created.UTC()
	fm.Updated = fm.Updated.UTC()

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	buf.Write(header)
	buf.WriteString(fence + "\n\n")
	buf.WriteString(strings.TrimSpace(content))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// decodeFile splits a memory file into its header and trimmed body.
func decodeFile(raw []byte) (frontmatter, string, error) {
	var fm frontmatter
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(text, fence+"\n") {
		return fm, "", fmt.Errorf("%w: missing frontmatter block", ErrInvalidInput)
	}

	rest := text[len(fence)+1:]
	header, body, ok := strings.Cut(rest, "\n"+fence+"\n")
	if !ok {
		// Header closed at end of file with no body.
		header, ok = strings.CutSuffix(rest, "\n"+fence)
		if !ok {
			return fm, "", fmt.Errorf("%w: unterminated frontmatter", ErrInvalidInput)
		}
	}

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", fmt.Errorf("%w: frontmatter: %v", ErrInvalidInput, err)
	}
	if fm.ID == "" || fm.Category == "" || fm.Created.IsZero() {
		return fm, "", fmt.Errorf("%w: incomplete frontmatter metadata", ErrInvalidInput)
	}
	if !fm.Type.Valid() {
		return fm, "", fmt.Errorf("%w: memory type %q", ErrInvalidInput, fm.Type)
	}
	if fm.Updated.IsZero() {
		fm.Updated = fm.Created
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}
	return fm, strings.TrimSpace(body), nil
}
