package store

// ContentFile is a file as returned by the GitHub contents API.
type ContentFile struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

type Committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PutContentRequest creates or updates a file. SHA is required when the
// file already exists.
type PutContentRequest struct {
	Message   string     `json:"message"`
	Content   string     `json:"content"`
	SHA       string     `json:"sha,omitempty"`
	Branch    string     `json:"branch,omitempty"`
	Committer *Committer `json:"committer,omitempty"`
}

type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	HTMLURL string `json:"html_url"`
}

type PutContentResponse struct {
	Content ContentFile `json:"content"`
	Commit  Commit      `json:"commit"`
}

type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

type apiError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}
