package explorer

// ItemKind is the display kind of a tree row.
type ItemKind string

// Item kinds.
const (
	ItemPage   ItemKind = "page"
	ItemButton ItemKind = "button"
)

// Icons.
const (
	IconPage        = "notebook"
	IconCreatePage  = "edit"
	IconLoadMore    = "sync"
	IconLoadingMore = "sync~spin"
)

// Commands bound to rows.
const (
	CommandOpenPage           = "openPage"
	CommandCreateNewChildPage = "createNewChildPage"
	CommandLoadNextPages      = "loadNextPages"
)

// Command is the action a row triggers. Argument is a page path.
type Command struct {
	Name     string `json:"name"`
	Argument string `json:"argument"`
}

// Item is the host-facing view of an Entry.
type Item struct {
	Kind        ItemKind `json:"kind"`
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Tooltip     string   `json:"tooltip,omitempty"`
	Icon        string   `json:"icon"`
	Command     Command  `json:"command"`
	Collapsible bool     `json:"collapsible"`
}

// Present maps an entry to its display item.
func Present(entry Entry) Item {
	switch entry.Kind {
	case EntryCreatePage:
		return Item{
			Kind:    ItemButton,
			Key:     entry.Path + "#create",
			Label:   "Create page",
			Icon:    IconCreatePage,
			Command: Command{Name: CommandCreateNewChildPage, Argument: entry.Path},
		}
	case EntryLoadMore:
		icon := IconLoadMore
		if entry.InProgress {
			icon = IconLoadingMore
		}
		return Item{
			Kind:    ItemButton,
			Key:     entry.Path + "#load-more",
			Label:   "Load more",
			Icon:    icon,
			Command: Command{Name: CommandLoadNextPages, Argument: entry.Path},
		}
	default:
		return Item{
			Kind:        ItemPage,
			Key:         entry.Path,
			Label:       entry.Title,
			Tooltip:     entry.Path,
			Icon:        IconPage,
			Command:     Command{Name: CommandOpenPage, Argument: entry.Path},
			Collapsible: true,
		}
	}
}

// PresentAll maps a children snapshot.
func PresentAll(entries []Entry) []Item {
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, Present(entry))
	}
	return items
}
