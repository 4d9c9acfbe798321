package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one download listed in a batch file. Dir falls back to the
// batch's dir, then to the configured one.
type Entry struct {
	Link     string `yaml:"link"`
	Dir      string `yaml:"dir,omitempty"`
	Filename string `yaml:"filename,omitempty"`
}

type batchFile struct {
	Dir       string  `yaml:"dir"`
	Downloads []Entry `yaml:"downloads"`
}

// LoadBatch reads a YAML batch file of the form
//
//	dir: downloads
//	downloads:
//	  - link: https://example.com/a.iso
//	  - link: s3://bucket/b.tar.gz
//	    dir: archives
//	    filename: b.tgz
func LoadBatch(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(bf.Downloads) == 0 {
		return nil, fmt.Errorf("batch file %s lists no downloads", path)
	}
	entries := make([]Entry, 0, len(bf.Downloads))
	for i, e := range bf.Downloads {
		e.Link = strings.TrimSpace(e.Link)
		if e.Link == "" {
			return nil, fmt.Errorf("batch entry %d: link is required", i+1)
		}
		if e.Dir == "" {
			e.Dir = bf.Dir
		}
		entries = append(entries, e)
	}
	return entries, nil
}
