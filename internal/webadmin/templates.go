// ABOUTME: Template rendering for the admin UI
// ABOUTME: Message content passes through goldmark before display

package webadmin

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/parley-gateway/internal/store"
)

var templateFuncs = template.FuncMap{
	"markdown": renderMarkdown,
}

type loginData struct {
	Title string
	Error string
	User  *store.User
}

type conversationRow struct {
	Conversation *store.Conversation
	AccountName  string
}

type conversationsData struct {
	Title         string
	User          *store.User
	Conversations []conversationRow
}

type transcriptData struct {
	Title        string
	User         *store.User
	Conversation *store.Conversation
	Messages     []*store.Message
}

// renderMarkdown converts message content to HTML. Goldmark escapes raw HTML
// by default, so stored content cannot inject markup.
func renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(buf.String())
}

func (a *Admin) render(w http.ResponseWriter, page string, data any) {
	tmpl := template.Must(template.New("base.html").Funcs(templateFuncs).ParseFS(templateFS,
		"templates/base.html", "templates/"+page))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("template rendering failed", "page", page, "error", err)
	}
}

func (a *Admin) renderLoginPage(w http.ResponseWriter, errorMsg string) {
	a.render(w, "login.html", loginData{Title: "Login", Error: errorMsg})
}

func (a *Admin) renderConversations(w http.ResponseWriter, user *store.User, rows []conversationRow) {
	a.render(w, "conversations.html", conversationsData{
		Title:         "Conversations",
		User:          user,
		Conversations: rows,
	})
}

func (a *Admin) renderTranscript(w http.ResponseWriter, user *store.User, conv *store.Conversation, msgs []*store.Message) {
	a.render(w, "transcript.html", transcriptData{
		Title:        conv.Name,
		User:         user,
		Conversation: conv,
		Messages:     msgs,
	})
}
