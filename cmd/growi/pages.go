package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"growiclient/app/internal/explorer"
	"growiclient/app/internal/growi"
	"growiclient/app/internal/pagefs"
	"growiclient/app/internal/wikipath"
)

var errNotConfigured = eris.New("wiki URL and API token are not configured, see `growi config`")

// treeWalker drives the explorer synchronously through a manual scheduler.
type treeWalker struct {
	tree      *explorer.Explorer
	scheduler *explorer.ManualScheduler
	all       bool
	failure   error
}

func (w *treeWalker) expand(path string, all bool) []explorer.Entry {
	w.tree.Children(path)
	w.scheduler.Drain()

	for all && w.failure == nil {
		entries := w.tree.Children(path)
		if len(entries) == 0 || entries[len(entries)-1].Kind != explorer.EntryLoadMore {
			break
		}
		if !w.tree.LoadNextPages(path) {
			break
		}
		w.scheduler.Drain()
	}

	node, _ := w.tree.Node(path)
	return node.Children
}

func (w *treeWalker) print(out io.Writer, path string, depth, maxDepth int) {
	for _, entry := range w.expand(path, w.all) {
		if w.failure != nil {
			return
		}
		item := explorer.Present(entry)
		label := "[" + item.Label + "]"
		if entry.Kind == explorer.EntryPage {
			label = fmt.Sprintf("%s  %s", item.Label, entry.Path)
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), label)

		if entry.Kind == explorer.EntryPage && depth+1 < maxDepth {
			w.print(out, entry.Path, depth+1, maxDepth)
		}
	}
}

func newTreeCommand(opts *rootOptions) *cobra.Command {
	var depth int
	var all bool

	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the page tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduler := explorer.NewManualScheduler()
			s, err := startSession(cmd.Context(), commandLogger(opts), scheduler)
			if err != nil {
				return err
			}
			defer s.Close()

			walker := &treeWalker{tree: s.app.Explorer, scheduler: scheduler, all: all}
			unsubscribe := walker.tree.OnDidFail(func(_ string, err error) {
				if walker.failure == nil {
					walker.failure = err
				}
			})
			defer unsubscribe()

			root, err := walker.tree.Root(cmd.Context())
			if err != nil {
				return err
			}
			if root == nil {
				return errNotConfigured
			}

			start := root.Path
			if len(args) == 1 {
				start = wikipath.Normalize(args[0])
				var chain []string
				for p := start; p != root.Path && p != wikipath.Root; p = wikipath.Parent(p) {
					chain = append(chain, p)
				}
				walker.expand(root.Path, true)
				for i := len(chain) - 1; i >= 1 && walker.failure == nil; i-- {
					walker.expand(chain[i], true)
				}
				if walker.failure != nil {
					return walker.failure
				}
				if !walker.tree.IsLoaded(start) {
					return growi.PageNotFound(start)
				}
			}

			out := cmd.OutOrStdout()
			if start == root.Path {
				fmt.Fprintf(out, "%s  %s\n", root.Title, root.Path)
			} else {
				fmt.Fprintf(out, "%s  %s\n", wikipath.Base(start), start)
			}
			walker.print(out, start, 1, depth+1)

			return walker.failure
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "number of levels to print")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "follow every load-more batch")
	return cmd
}

func newCatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a page body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd.Context(), commandLogger(opts), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			body, err := s.app.Files.ReadFile(cmd.Context(), wikipath.ToLocator(wikipath.Normalize(args[0])))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}

func newWriteCommand(opts *rootOptions) *cobra.Command {
	var create, overwrite bool

	cmd := &cobra.Command{
		Use:   "write <path>",
		Short: "Replace a page body with standard input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return eris.Wrap(err, "reading standard input")
			}

			s, err := startSession(cmd.Context(), commandLogger(opts), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			locator := wikipath.ToLocator(wikipath.Normalize(args[0]))
			writeOpts := pagefs.WriteOptions{Create: create, Overwrite: overwrite || !create}
			return s.app.Files.WriteFile(cmd.Context(), locator, content, writeOpts)
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create the page when it does not exist")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow replacing an existing page together with --create")
	return cmd
}

func newNewCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new <path>",
		Short: "Create a page titled after its last path segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(args[0])
			if ok, message := wikipath.Validate(raw); !ok {
				return eris.New(message)
			}
			path := wikipath.Normalize(raw)

			s, err := startSession(cmd.Context(), commandLogger(opts), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			exists, err := s.app.Client.PageExists(cmd.Context(), path)
			if err != nil {
				return err
			}
			if exists {
				return growi.PageExists(path)
			}

			if _, err := s.app.Client.CreatePage(cmd.Context(), path, "# "+wikipath.Base(path)); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), wikipath.ToLocator(path))
			return nil
		},
	}
}

func newOpenCommand(opts *rootOptions) *cobra.Command {
	var edit bool

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Print the browser address of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd.Context(), commandLogger(opts), nil)
			if err != nil {
				return err
			}
			defer s.Close()

			address, err := s.app.Client.PageURL(args[0], edit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), address)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&edit, "edit", "e", false, "open the editor instead of the page view")
	return cmd
}
