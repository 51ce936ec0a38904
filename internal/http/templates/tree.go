// Package templates renders the HTML views of the local API.
package templates

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"growiclient/app/internal/explorer"
	"growiclient/app/internal/wikipath"
)

// TreeRow is one item of the flattened tree with its nesting depth.
type TreeRow struct {
	Depth int
	Item  explorer.Item
}

// TreePageData holds the values rendered on the tree page.
type TreePageData struct {
	Title   string
	Message string
	Rows    []TreeRow
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	StatusLabel string
	Message     string
}

// TreePage renders the cached page tree.
func TreePage(data TreePageData) templ.Component {
	return layout(data.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if data.Message != "" {
			if _, err := fmt.Fprintf(w, `<p class="message">%s</p>`, templ.EscapeString(data.Message)); err != nil {
				return err
			}
		}
		if len(data.Rows) == 0 {
			return nil
		}

		if _, err := io.WriteString(w, `<ul class="tree">`); err != nil {
			return err
		}
		for _, row := range data.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := writeRow(w, row); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	}))
}

// ErrorPage renders a status page.
func ErrorPage(data ErrorPageData) templ.Component {
	return layout(data.StatusLabel, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h2>%s</h2><p>%s</p>`,
			templ.EscapeString(data.StatusLabel),
			templ.EscapeString(data.Message))
		return err
	}))
}

func writeRow(w io.Writer, row TreeRow) error {
	item := row.Item
	label := templ.EscapeString(item.Label)
	if item.Command.Name == explorer.CommandOpenPage {
		href := "/api/files?locator=" + url.QueryEscape(wikipath.ToLocator(item.Command.Argument))
		label = fmt.Sprintf(`<a href="%s">%s</a>`, templ.EscapeString(href), label)
	}

	_, err := fmt.Fprintf(w,
		`<li class="%s" style="padding-left:%dem" title="%s" data-command="%s" data-argument="%s"><span class="icon">%s</span> %s</li>`,
		templ.EscapeString(string(item.Kind)),
		row.Depth*2,
		templ.EscapeString(item.Tooltip),
		templ.EscapeString(item.Command.Name),
		templ.EscapeString(item.Command.Argument),
		templ.EscapeString(iconGlyph(item.Icon)),
		label,
	)
	return err
}

func iconGlyph(icon string) string {
	switch icon {
	case explorer.IconPage:
		return "📓"
	case explorer.IconCreatePage:
		return "✎"
	case explorer.IconLoadingMore:
		return "…"
	case explorer.IconLoadMore:
		return "↻"
	default:
		return strings.TrimSpace(icon)
	}
}

func layout(title string, content templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		escaped := templ.EscapeString(title)
		if _, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title></head><body><h1>%s</h1>`,
			escaped, escaped); err != nil {
			return err
		}
		if err := content.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}
