package identify

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// DefaultsKey is the manifest entry whose attributes apply to every file.
const DefaultsKey = "all"

// SampleMetadata describes one input file.
type SampleMetadata struct {
	StudyName    string `json:"study_name"`
	SampleName   string `json:"sample_name"`
	Subject      string `json:"subject"`
	Date         string `json:"date"`
	Subset       string `json:"subset"`
	Tissue       string `json:"tissue"`
	Disease      string `json:"disease"`
	Lab          string `json:"lab"`
	Experimenter string `json:"experimenter"`
	IgClass      string `json:"ig_class"`
	VPrimer      string `json:"v_primer"`
	JPrimer      string `json:"j_primer"`
	Paired       *bool  `json:"paired"`
}

// WithDefaults returns m with every unset attribute taken from defaults.
func (m SampleMetadata) WithDefaults(defaults SampleMetadata) SampleMetadata {
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&m.StudyName, defaults.StudyName)
	fill(&m.SampleName, defaults.SampleName)
	fill(&m.Subject, defaults.Subject)
	fill(&m.Date, defaults.Date)
	fill(&m.Subset, defaults.Subset)
	fill(&m.Tissue, defaults.Tissue)
	fill(&m.Disease, defaults.Disease)
	fill(&m.Lab, defaults.Lab)
	fill(&m.Experimenter, defaults.Experimenter)
	fill(&m.IgClass, defaults.IgClass)
	fill(&m.VPrimer, defaults.VPrimer)
	fill(&m.JPrimer, defaults.JPrimer)
	if m.Paired == nil {
		m.Paired = defaults.Paired
	}
	return m
}

// IsPaired reports whether the reads were assembled from read pairs.
func (m SampleMetadata) IsPaired() bool {
	return m.Paired != nil && *m.Paired
}

// Validate checks the required attributes.
func (m SampleMetadata) Validate() error {
	for _, f := range []struct{ name, v string }{
		{"study_name", m.StudyName},
		{"sample_name", m.SampleName},
		{"subject", m.Subject},
	} {
		if f.v == "" {
			return errors.E(errors.Invalid, "missing required attribute", f.name)
		}
	}
	return nil
}

// Manifest maps file names of a sample directory to their metadata.
type Manifest struct {
	Defaults SampleMetadata
	Files    map[string]SampleMetadata
}

// ParseManifest decodes a JSON manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw map[string]SampleMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &Manifest{Files: make(map[string]SampleMetadata, len(raw))}
	for name, md := range raw {
		if name == DefaultsKey {
			m.Defaults = md
			continue
		}
		m.Files[name] = md
	}
	return m, nil
}

// ReadManifest reads a JSON manifest from path.
func ReadManifest(ctx context.Context, path string) (*Manifest, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open manifest", path)
	}
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if cerr := in.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(err, "read manifest", path)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, errors.E(err, "parse manifest", path)
	}
	return m, nil
}

// Names returns the file names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Files))
	for n := range m.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata of a file with the defaults applied.
func (m *Manifest) Metadata(name string) (SampleMetadata, bool) {
	md, ok := m.Files[name]
	if !ok {
		return SampleMetadata{}, false
	}
	return md.WithDefaults(m.Defaults), true
}
