package commandline

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Template renders a value or icon template against a command's output.
// Templates see .Value, the raw text, and .ValueJSON, the text decoded as
// JSON (nil when it is not JSON).
type Template struct {
	src string
	t   *template.Template
}

type templateData struct {
	Value     string
	ValueJSON any
}

var templateFuncs = template.FuncMap{
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"contains": strings.Contains,
}

func ParseTemplate(name, src string) (*Template, error) {
	t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing template %s", name)
	}
	return &Template{src: src, t: t}, nil
}

func (t *Template) String() string {
	return t.src
}

// Render executes the template with payload. A failed render yields "" and
// the error.
func (t *Template) Render(payload string) (string, error) {
	data := templateData{Value: payload}
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
		data.ValueJSON = decoded
	}
	var buf bytes.Buffer
	if err := t.t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "rendering template %s", t.t.Name())
	}
	return strings.TrimSpace(buf.String()), nil
}
