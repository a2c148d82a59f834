package info

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// InfoCmd prints information about the local database
var InfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the local database",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupStoreFlags(InfoCmd)
	InfoCmd.Flags().Bool("json", false, util.WrapString("Print the raw information as JSON"))
}

func run(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	ls, err := util.OpenLocalStore(conf)
	if err != nil {
		return err
	}
	defer ls.Close()

	info, err := ls.GetDBInfo(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	features := make([]string, len(info.SupportedFeatures))
	for i, f := range info.SupportedFeatures {
		features[i] = f.String()
	}

	fmt.Println(conf.String())
	fmt.Println("DATABASE")
	fmt.Printf("  %-22s: %s\n", "Engine", info.DbType)
	fmt.Printf("  %-22s: %s\n", "Entries", humanize.Comma(int64(info.EntryCount)))
	fmt.Printf("  %-22s: %s\n", "Size", humanize.Bytes(uint64(info.SizeBytes)))
	fmt.Printf("  %-22s: %s\n", "Features", strings.Join(features, ", "))
	if info.Metadata != nil {
		meta, err := json.MarshalIndent(info.Metadata, "  ", "  ")
		if err == nil {
			fmt.Printf("  %-22s: %s\n", "Metadata", meta)
		}
	}
	return nil
}
