package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/mensa/internal/client"
	"github.com/spf13/cobra"
)

var chromaWatch bool

var chromaCmd = &cobra.Command{
	Use:   "chroma",
	Short: "Show vector store collections",
	Long: `Show the vector store collections and their document counts.

Examples:
  mensa chroma
  mensa chroma --watch`,
	RunE: runChroma,
}

func init() {
	chromaCmd.Flags().BoolVarP(&chromaWatch, "watch", "w", false, "keep polling and reprint on every refresh")
}

func runChroma(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a := newApp()
	defer a.Close()

	if !chromaWatch {
		cc, err := a.chroma.Refresh(ctx)
		if err != nil {
			return err
		}
		writeCollections(os.Stdout, cc)
		return cc.Err()
	}

	a.chroma.Run(ctx, func(cc *client.ChromaCollections, err error) {
		fmt.Printf("\n── %s ──\n", time.Now().Format("15:04:05"))
		if err != nil {
			fmt.Println(defaultTheme.errorStyle().Render(err.Error()))
			return
		}
		writeCollections(os.Stdout, cc)
	})
	return nil
}

func writeCollections(w io.Writer, cc *client.ChromaCollections) {
	if cc.Status != "" {
		fmt.Fprintf(w, "Status: %s\n", cc.Status)
	}
	if err := cc.Err(); err != nil {
		fmt.Fprintln(w, defaultTheme.errorStyle().Render("Error: "+err.Error()))
	}
	if len(cc.Collections) == 0 {
		fmt.Fprintln(w, "No collections found.")
		return
	}

	total := 0
	fmt.Fprintf(w, "%-28s %10s\n", "COLLECTION", "DOCUMENTS")
	fmt.Fprintln(w, "---------------------------------------")
	for _, c := range cc.Collections {
		fmt.Fprintf(w, "%-28s %10d\n", c.Name, c.Count)
		if c.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", c.Error)
		}
		total += c.Count
	}
	fmt.Fprintf(w, "%-28s %10d\n", "total", total)
}
