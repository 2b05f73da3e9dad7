package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hfi/randmedia/internal/state"
	"github.com/hfi/randmedia/internal/storage"
)

func categoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "categories",
		Short:   "List categories per group with file counts and sizes",
		Example: "  randmedia categories -c config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// no tokens are issued here, so the in-memory store is enough
			tokens := storage.NewMemoryStore(cfg.Storage.TokenTTL)
			defer tokens.Close()

			shared := state.New(afero.NewOsFs(), tokens,
				state.WithListingRefresh(cfg.Storage.ListingRefresh),
			)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tCATEGORY\tFILES\tSIZE")
			for _, group := range cfg.Assets.Groups {
				dir := cfg.GroupDir(group)
				for _, category := range shared.Categories(dir) {
					files, _ := shared.Files(dir, category)

					var total int64
					for _, f := range files {
						total += f.Size
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", group, category, len(files), humanize.IBytes(uint64(total)))
				}
			}
			return w.Flush()
		},
	}
}
