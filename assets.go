package kimochi

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.yaml
var templatesFS embed.FS

// TemplatesFS 内置邮件/短信模板
func TemplatesFS() fs.FS {
	sub, _ := fs.Sub(templatesFS, "templates")
	return sub
}
