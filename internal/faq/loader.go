package faq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads FAQ entries from path. Files ending in .yaml or .yml are
// parsed with [ParseYAML]; everything else with [ParsePlain].
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("faq: open %q: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = ParseYAML(f)
	default:
		entries, err = ParsePlain(f)
	}
	if err != nil {
		return nil, fmt.Errorf("faq: %s: %w", path, err)
	}
	return entries, nil
}

// ParsePlain parses the plain-text FAQ format: blocks of one or more "Q:"
// lines followed by one or more "A:" lines, separated by blank lines. Lines
// starting with "#" are comments. Several "A:" lines are joined with a
// newline; several "Q:" lines produce one entry each with the shared answer.
func ParsePlain(r io.Reader) ([]Entry, error) {
	var (
		entries   []Entry
		errs      []error
		questions []string
		answers   []string
		blockLine int
	)
	flush := func() {
		switch {
		case len(questions) == 0 && len(answers) == 0:
		case len(questions) == 0:
			errs = append(errs, fmt.Errorf("line %d: answer without question", blockLine))
		case len(answers) == 0:
			errs = append(errs, fmt.Errorf("line %d: question without answer", blockLine))
		default:
			answer := strings.Join(answers, "\n")
			for _, q := range questions {
				entries = append(entries, Entry{Question: q, Answer: answer})
			}
		}
		questions, answers = nil, nil
	}

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "Q:"):
			if len(answers) > 0 {
				flush()
			}
			if len(questions) == 0 {
				blockLine = n
			}
			if q := strings.TrimSpace(line[2:]); q != "" {
				questions = append(questions, q)
			} else {
				errs = append(errs, fmt.Errorf("line %d: empty question", n))
			}
		case strings.HasPrefix(line, "A:"):
			if len(questions) == 0 && len(answers) == 0 {
				blockLine = n
			}
			if a := strings.TrimSpace(line[2:]); a != "" {
				answers = append(answers, a)
			} else {
				errs = append(errs, fmt.Errorf("line %d: empty answer", n))
			}
		default:
			errs = append(errs, fmt.Errorf("line %d: expected \"Q:\" or \"A:\", got %q", n, line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}

// yamlEntry is one element of a YAML FAQ file.
type yamlEntry struct {
	Questions []string `yaml:"questions"`
	Answer    string   `yaml:"answer"`
}

// ParseYAML parses a YAML list of {questions: [...], answer: ...} items.
func ParseYAML(r io.Reader) ([]Entry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var items []yamlEntry
	if err := dec.Decode(&items); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoEntries
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var (
		entries []Entry
		errs    []error
	)
	for i, it := range items {
		answer := strings.TrimSpace(it.Answer)
		if answer == "" {
			errs = append(errs, fmt.Errorf("item %d: empty answer", i))
		}
		if len(it.Questions) == 0 {
			errs = append(errs, fmt.Errorf("item %d: no questions", i))
		}
		for _, q := range it.Questions {
			if q = strings.TrimSpace(q); q == "" {
				errs = append(errs, fmt.Errorf("item %d: empty question", i))
				continue
			}
			entries = append(entries, Entry{Question: q, Answer: answer})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}
