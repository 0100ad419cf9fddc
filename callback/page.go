package callback

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
<p>You can close this window and return to the application.</p>
</body>
</html>
`))

type pageData struct {
	Title   string
	Message string
}

func writeResultPage(w http.ResponseWriter, req Request) {
	data := pageData{Title: "Login received", Message: "The application is finishing your login."}
	status := http.StatusOK
	if req.HasError() {
		data = pageData{Title: "Login cancelled", Message: "The provider reported: " + req.Error}
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, data); err != nil {
		log.Err(err).Msg("Failed to render callback page")
	}
}
