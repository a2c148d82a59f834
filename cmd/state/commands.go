package state

import (
	"fmt"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Read the state of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, _ := cmd.Flags().GetString("default")
			rec, err := stateStore.Read(cmd.Context(), args[0], args[1], []byte(def))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s version=%s exists=%t\n", rec.Key, rec.Version, rec.Exists)
			fmt.Println(string(rec.Payload))
			return nil
		},
	}

	putCmd = &cobra.Command{
		Use:   "put <type> <id> <payload>",
		Short: "Write the state of an entity if its version matches --expected",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := expectedVersion(cmd)
			if err != nil {
				return err
			}
			version, err := stateStore.Write(cmd.Context(), args[0], args[1], []byte(args[2]), expected)
			if err != nil {
				return err
			}
			fmt.Printf("written: version=%s\n", version)
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear <type> <id>",
		Short: "Delete the state of an entity if its version matches --expected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := expectedVersion(cmd)
			if err != nil {
				return err
			}
			if err := stateStore.Clear(cmd.Context(), args[0], args[1], expected); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		},
	}
)

func init() {
	getCmd.Flags().String("default", "", util.WrapString("Payload returned if the entity has no state"))
	putCmd.Flags().String("expected", "absent", util.WrapString("Version the stored state must have (absent for a first write)"))
	clearCmd.Flags().String("expected", "absent", util.WrapString("Version the stored state must have"))
}

func expectedVersion(cmd *cobra.Command) (store.Version, error) {
	raw, _ := cmd.Flags().GetString("expected")
	return util.ParseVersion(raw)
}
