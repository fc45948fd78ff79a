package completion

import (
	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/catalog"
)

func NoComplete(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// VariantKeys offers completion for catalog variants. When installedOnly is
// set only variants present in modelsDir are offered.
func VariantKeys(modelsDir string, installedOnly bool, limit int) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if limit > 0 && len(args) >= limit {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var keys []string
		for _, v := range catalog.All() {
			if installedOnly && !catalog.Installed(modelsDir, v.Key) {
				continue
			}
			keys = append(keys, string(v.Key)+"\t"+v.Label)
		}
		return keys, cobra.ShellCompDirectiveNoFileComp
	}
}
