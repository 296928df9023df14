// Package query turns search criteria into a ranked, deduplicated set of
// dispatch-ready search queries.
package query

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mediascout/internal/model"
)

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// Template is one parametrized query pattern. Placeholders ({query},
// {country}, {category}, {beat}, {language}, {domain}) are substituted
// with criterion values at render time.
type Template struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Priority int      `yaml:"priority"`
	Dims     []string `yaml:"dims"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// maxValuesPerDim caps how many values of a multi-valued criterion are
// expanded per template, keeping the render fan-out bounded.
const maxValuesPerDim = 3

// DefaultTemplates parses the embedded template set.
func DefaultTemplates() ([]Template, error) {
	return parseTemplates(defaultTemplatesYAML)
}

// LoadTemplates reads templates from a YAML file, for deployments that
// override the embedded defaults.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "query: read templates %s", path)
	}
	return parseTemplates(data)
}

func parseTemplates(data []byte) ([]Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "query: parse templates")
	}
	if len(f.Templates) == 0 {
		return nil, eris.New("query: no templates defined")
	}
	return f.Templates, nil
}

// Render instantiates the template against the criteria, producing one
// query string per combination of criterion values. Templates whose
// dimensions are absent from the criteria render nothing.
func (t Template) Render(c model.SearchCriteria) []string {
	out := []string{t.Pattern}
	for _, dim := range t.Dims {
		values := dimValues(c, dim)
		if len(values) == 0 {
			return nil
		}
		if len(values) > maxValuesPerDim {
			values = values[:maxValuesPerDim]
		}

		placeholder := "{" + dim + "}"
		next := make([]string, 0, len(out)*len(values))
		for _, partial := range out {
			for _, v := range values {
				next = append(next, strings.ReplaceAll(partial, placeholder, v))
			}
		}
		out = next
	}

	for i, q := range out {
		out[i] = strings.Join(strings.Fields(q), " ")
	}
	return out
}

func dimValues(c model.SearchCriteria, dim string) []string {
	switch dim {
	case "query":
		if c.Query == "" {
			return nil
		}
		return []string{c.Query}
	case "country":
		return c.Countries
	case "category":
		return c.Categories
	case "beat":
		return c.Beats
	case "language":
		return c.Languages
	case "domain":
		return c.Domains
	default:
		return nil
	}
}
