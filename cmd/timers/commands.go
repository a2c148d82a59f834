package timers

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/spf13/cobra"
)

var (
	upsertCmd = &cobra.Command{
		Use:   "upsert <owner> <name>",
		Short: "Create or replace a timer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			startRaw, _ := cmd.Flags().GetString("start")
			period, _ := cmd.Flags().GetDuration("period")
			startAt, err := util.ParseTime(startRaw, time.Now())
			if err != nil {
				return err
			}
			e := timers.NewEntry(args[0], args[1], startAt, period)
			if cmd.Flags().Changed("hash") {
				h, _ := cmd.Flags().GetUint32("hash")
				e.OwnerHash = h
			}
			version, err := registry.Upsert(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Printf("upserted: hash=%d version=%s\n", e.OwnerHash, version)
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <owner> <name>",
		Short: "Show a single timer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, ok, err := registry.FindByID(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("timer %s/%s not found", args[0], args[1])
			}
			printEntries([]timers.Entry{e})
			return nil
		},
	}

	ownerCmd = &cobra.Command{
		Use:   "owner <owner>",
		Short: "List the timers of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := registry.FindByOwner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}

	rangeCmd = &cobra.Command{
		Use:   "range <begin> <end>",
		Short: "List the timers whose owner hash lies in (begin, end]",
		Long:  "List the timers whose owner hash lies in (begin, end]. The range wraps around zero if begin > end, begin == end selects the whole ring.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			begin, err := parseHash(args[0])
			if err != nil {
				return err
			}
			end, err := parseHash(args[1])
			if err != nil {
				return err
			}
			res, err := registry.Query(cmd.Context(), timers.Selector{Range: &timers.HashRange{Begin: begin, End: end}})
			if err != nil {
				return err
			}
			printEntries(res.Entries)
			for _, s := range res.Skipped {
				fmt.Fprintf(os.Stderr, "skipped: %v\n", s)
			}
			return nil
		},
	}

	rmCmd = &cobra.Command{
		Use:   "rm <owner> <name> <version>",
		Short: "Remove a timer if it still has the given version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := registry.ID(args[0], args[1])
			if err != nil {
				return err
			}
			version, err := util.ParseVersion(args[2])
			if err != nil {
				return err
			}
			removed, err := registry.RemoveConditionally(cmd.Context(), id, version)
			if err != nil {
				return err
			}
			fmt.Printf("removed: %t\n", removed)
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all timers under the timer prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := registry.ClearAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d timers\n", n)
			return nil
		},
	}

	splitCmd = &cobra.Command{
		Use:   "split <n>",
		Short: "Print the ring segments of an n node cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid segment count %q", args[0])
			}
			for i, r := range timers.SplitRing(n) {
				fmt.Printf("%3d  %-12d %-12d %s\n", i, r.Begin, r.End, r)
			}
			return nil
		},
	}
)

func init() {
	upsertCmd.Flags().String("start", "now", util.WrapString("First firing time, RFC 3339 or a duration relative to now (e.g. 5m)"))
	upsertCmd.Flags().Duration("period", 0, util.WrapString("Repeat interval, 0 for a one-shot timer"))
	upsertCmd.Flags().Uint32("hash", 0, util.WrapString("Explicit ring position instead of the hash of the owner key"))
}

func parseHash(s string) (uint32, error) {
	h, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q (expected 0..%d)", s, uint32(math.MaxUint32))
	}
	return uint32(h), nil
}

func printEntries(entries []timers.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tNAME\tHASH\tSTART\tPERIOD\tNEXT DUE\tVERSION")
	now := time.Now()
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.OwnerKey, e.TimerName, e.OwnerHash,
			e.StartAt.Format(time.RFC3339), e.Period, e.NextDue(now).Format(time.RFC3339), e.Version)
	}
	_ = w.Flush()
}
