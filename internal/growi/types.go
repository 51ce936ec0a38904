package growi

import "encoding/json"

// PageSummary is the minimal page shape returned by listings.
type PageSummary struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Revision is a versioned snapshot of a page body. Its ID is the optimistic-concurrency
// token required to update the page.
type Revision struct {
	ID     string `json:"_id"`
	Path   string `json:"path"`
	Body   string `json:"body"`
	Format string `json:"format"`
}

// Page is a wiki page together with its current revision.
type Page struct {
	ID         string   `json:"id"`
	Path       string   `json:"path"`
	Revision   Revision `json:"revision"`
	RedirectTo string   `json:"redirectTo,omitempty"`
}

// PageList is one slice of a paginated listing. The total may change between calls.
type PageList struct {
	Pages      []PageSummary `json:"pages"`
	TotalCount int           `json:"totalCount"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// ListOptions selects the slice of a listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// pagePayload accepts both the virtual "id" and the raw "_id" the wiki may send.
type pagePayload struct {
	ID         string          `json:"id"`
	RawID      string          `json:"_id"`
	Path       string          `json:"path"`
	Revision   revisionPayload `json:"revision"`
	RedirectTo string          `json:"redirectTo"`
}

// revisionPayload tolerates the revision being sent as a bare id string.
type revisionPayload struct {
	Revision
}

func (r *revisionPayload) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		r.Revision = Revision{ID: id}
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, &r.Revision)
}

func (p pagePayload) toSummary() PageSummary {
	return PageSummary{ID: p.id(), Path: p.Path}
}

func (p pagePayload) toPage() *Page {
	return &Page{
		ID:         p.id(),
		Path:       p.Path,
		Revision:   p.Revision.Revision,
		RedirectTo: p.RedirectTo,
	}
}

func (p pagePayload) id() string {
	if p.ID != "" {
		return p.ID
	}
	return p.RawID
}

type listResponse struct {
	OK         bool          `json:"ok"`
	Pages      []pagePayload `json:"pages"`
	TotalCount int           `json:"totalCount"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	Error      string        `json:"error"`
}

type pageResponse struct {
	OK    bool         `json:"ok"`
	Page  *pagePayload `json:"page"`
	Error string       `json:"error"`
}

type existResponse struct {
	OK    bool            `json:"ok"`
	Pages map[string]bool `json:"pages"`
	Error string          `json:"error"`
}

type createResponse struct {
	Data *struct {
		Page     pagePayload     `json:"page"`
		Revision revisionPayload `json:"revision"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type updateRequest struct {
	AccessToken string `json:"access_token"`
	PageID      string `json:"page_id"`
	RevisionID  string `json:"revision_id"`
	Body        string `json:"body"`
}

type createRequest struct {
	AccessToken string `json:"access_token"`
	Path        string `json:"path"`
	Body        string `json:"body"`
}
