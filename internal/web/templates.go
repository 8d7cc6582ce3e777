package web

import "html/template"

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"column": func(fields []field, col int) []field {
		out := make([]field, 0, len(fields))
		for _, f := range fields {
			if f.Column == col || (col == 0 && f.Column != 1) {
				out = append(out, f)
			}
		}
		return out
	},
}).Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Variant.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
nav a { margin-right: 1rem; }
nav a.active { font-weight: bold; }
.columns { display: grid; grid-template-columns: 1fr 1fr; gap: 1rem 2rem; }
label { display: block; margin-bottom: .75rem; }
label span.hint { color: #777; font-size: .85em; }
input[type=number] { width: 8rem; display: block; }
.field-error, .error { color: #c00; }
button { margin-top: 1rem; padding: .5rem 1.5rem; }
.disclaimer { color: #666; font-style: italic; }
</style>
</head>
<body>
<nav>{{range .Variants}}<a href="/variants/{{.Name}}"{{if eq .Name $.Variant.Name}} class="active"{{end}}>{{.Name}}</a>{{end}}</nav>
<h1>{{.Variant.Title}}</h1>
<h3>Input Data</h3>
<form id="inputs" method="post" action="/variants/{{.Variant.Name}}/plot">
<div class="columns">
<div>
{{range column .Fields 0}}<label>{{.Label}} <span class="hint">({{.Hint}})</span>
<input type="number" name="{{.Name}}" value="{{.Value}}" min="{{.Min}}"{{if .Max}} max="{{.Max}}"{{end}} step="{{.Step}}">
{{if .Error}}<span class="field-error">{{.Error}}</span>{{end}}</label>
{{end}}</div>
<div>
{{range column .Fields 1}}<label>{{.Label}} <span class="hint">({{.Hint}})</span>
<input type="number" name="{{.Name}}" value="{{.Value}}" min="{{.Min}}"{{if .Max}} max="{{.Max}}"{{end}} step="{{.Step}}">
{{if .Error}}<span class="field-error">{{.Error}}</span>{{end}}</label>
{{end}}</div>
</div>
<button type="submit">Generate Plot</button>
</form>
{{if .Error}}<p class="error">{{.ErrorKind}}: {{.Error}}</p>{{end}}
{{if .Rendered}}<section id="result">
<h2>{{.Subheader}}</h2>
<hr>
{{.Chart}}
<p class="disclaimer">{{.Disclaim}}</p>
</section>
<script>
document.getElementById("inputs").addEventListener("input", function () {
  var result = document.getElementById("result");
  if (result) { result.remove(); }
});
</script>{{end}}
</body>
</html>
`
