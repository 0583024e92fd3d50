package admin

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the admin page templates. Register them with gin.Engine.SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.New("admin").ParseFS(templateFS, "templates/*.html"))
}
